package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunSuccess(t *testing.T) {
	e := New(Options{})
	res, err := e.Run(context.Background(), []string{"/bin/sh", "-c", "echo out; echo err >&2"}, 5*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("stderr = %q", res.Stderr)
	}
	if res.Elapsed <= 0 {
		t.Error("elapsed not measured")
	}
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	e := New(Options{})
	res, err := e.Run(context.Background(), []string{"/bin/sh", "-c", "exit 3"}, 5*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestRunStartFailure(t *testing.T) {
	e := New(Options{})
	res, err := e.Run(context.Background(), []string{"/nonexistent/binary"}, time.Second)
	var serr *StartError
	if !errors.As(err, &serr) {
		t.Fatalf("error = %v, want *StartError", err)
	}
	if res.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1 for a process that never ran", res.ExitCode)
	}
}

func TestRunEmptyArgv(t *testing.T) {
	e := New(Options{})
	_, err := e.Run(context.Background(), nil, time.Second)
	var serr *StartError
	if !errors.As(err, &serr) {
		t.Fatalf("error = %v, want *StartError", err)
	}
}

func TestRunTimeout(t *testing.T) {
	e := New(Options{Grace: 200 * time.Millisecond})
	start := time.Now()
	res, err := e.Run(context.Background(), []string{"/bin/sh", "-c", "echo before; sleep 30"}, 300*time.Millisecond)
	var terr *TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("error = %v, want *TimeoutError", err)
	}
	if !res.TimedOut {
		t.Error("TimedOut flag not set")
	}
	// Partial output captured before the kill survives.
	if !strings.Contains(res.Stdout, "before") {
		t.Errorf("stdout = %q, want partial output", res.Stdout)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("kill escalation took %s; process group not terminated", elapsed)
	}
}

func TestRunTimeoutKillsGrandchildren(t *testing.T) {
	e := New(Options{Grace: 200 * time.Millisecond})
	start := time.Now()
	// The shell spawns a background sleep; group kill must reap both.
	_, err := e.Run(context.Background(), []string{"/bin/sh", "-c", "sleep 30 & wait"}, 300*time.Millisecond)
	var terr *TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("error = %v, want *TimeoutError", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("run took %s; grandchild likely survived SIGTERM escalation", elapsed)
	}
}

func TestRunContextCancel(t *testing.T) {
	e := New(Options{Grace: 200 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	res, err := e.Run(ctx, []string{"/bin/sh", "-c", "sleep 30"}, 10*time.Second)
	var cerr *CancelError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want *CancelError", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cause = %v, want context.Canceled", err)
	}
	if !res.Canceled {
		t.Error("Canceled flag not set on cancellation")
	}
	// Cancellation is not a timeout; audits must be able to tell them apart.
	if res.TimedOut {
		t.Error("TimedOut flag set on cancellation")
	}
	if res.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", res.ExitCode)
	}
}

func TestRunTruncatesOutput(t *testing.T) {
	e := New(Options{MaxOutputBytes: 1024})
	res, err := e.Run(context.Background(), []string{"/bin/sh", "-c", "i=0; while [ $i -lt 500 ]; do echo line-$i; i=$((i+1)); done"}, 5*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.StdoutTruncated {
		t.Fatal("stdout should be truncated")
	}
	if res.StdoutBytes <= 1024 {
		t.Errorf("total bytes = %d, want the full produced count", res.StdoutBytes)
	}
	// Head and tail both survive truncation.
	if !strings.Contains(res.Stdout, "line-0") {
		t.Error("head of output lost")
	}
	if !strings.Contains(res.Stdout, "line-499") {
		t.Error("tail of output lost")
	}
	if !strings.Contains(res.Stdout, "[output truncated]") {
		t.Error("missing elision marker")
	}
}

func TestRunQueueTimeout(t *testing.T) {
	e := New(Options{MaxConcurrent: 1, QueueTimeout: 200 * time.Millisecond, Grace: 200 * time.Millisecond})

	blocked := make(chan struct{})
	go func() {
		defer close(blocked)
		_, _ = e.Run(context.Background(), []string{"/bin/sh", "-c", "sleep 2"}, 5*time.Second)
	}()
	time.Sleep(100 * time.Millisecond)

	_, err := e.Run(context.Background(), []string{"/bin/true"}, time.Second)
	var serr *StartError
	if !errors.As(err, &serr) {
		t.Fatalf("error = %v, want *StartError for a queue timeout", err)
	}
	<-blocked
}

func TestBoundedBufferSmallStream(t *testing.T) {
	b := newBoundedBuffer(64)
	b.Write([]byte("hello"))
	if b.Truncated() {
		t.Error("small stream reported truncated")
	}
	if got := b.String(); got != "hello" {
		t.Errorf("String() = %q", got)
	}
}
