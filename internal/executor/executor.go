// Package executor runs expanded command vectors as subprocesses under a
// wall-clock timeout. Every child gets its own process group so that timeout
// kills reach the whole tree, not just the direct child.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// Defaults applied when the caller leaves Options fields zero.
const (
	DefaultMaxOutputBytes = 1 << 20 // 1 MiB per stream
	DefaultGrace          = 3 * time.Second
	DefaultMaxConcurrent  = 8
	DefaultQueueTimeout   = 5 * time.Second
)

// StartError means the process never ran: spawn failure, queue timeout, or
// cancellation before start. Distinct from a process that ran and failed.
type StartError struct {
	Err error
}

func (e *StartError) Error() string { return fmt.Sprintf("executor: start: %v", e.Err) }
func (e *StartError) Unwrap() error { return e.Err }

// TimeoutError means the process exceeded its wall-clock budget and was
// killed. Partial output captured before the kill is still returned.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("executor: timed out after %s", e.Timeout)
}

// CancelError means the caller's context ended while the process was still
// running; the process group was killed the same way a timeout kills it.
// Kept distinct so a caller disconnect is not mistaken for a slow process.
type CancelError struct {
	Err error
}

func (e *CancelError) Error() string { return fmt.Sprintf("executor: canceled: %v", e.Err) }
func (e *CancelError) Unwrap() error { return e.Err }

// Options configures an Executor.
type Options struct {
	MaxOutputBytes int
	Grace          time.Duration
	MaxConcurrent  int
	QueueTimeout   time.Duration
}

// Result is the outcome of one subprocess run. A non-zero ExitCode with a
// nil error means the process ran to completion and failed on its own terms.
type Result struct {
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	StdoutBytes     int64
	StderrBytes     int64
	ExitCode        int
	Elapsed         time.Duration
	TimedOut        bool
	Canceled        bool
}

// Executor runs subprocesses under a concurrency ceiling.
type Executor struct {
	sem          chan struct{}
	maxOutput    int
	grace        time.Duration
	queueTimeout time.Duration
}

// New builds an Executor, filling unset options with defaults.
func New(opts Options) *Executor {
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.QueueTimeout <= 0 {
		opts.QueueTimeout = DefaultQueueTimeout
	}
	return &Executor{
		sem:          make(chan struct{}, opts.MaxConcurrent),
		maxOutput:    opts.MaxOutputBytes,
		grace:        opts.Grace,
		queueTimeout: opts.QueueTimeout,
	}
}

// Run executes argv with the given timeout. The returned error is a
// *StartError, *TimeoutError or *CancelError; non-zero exits are not errors.
func (e *Executor) Run(ctx context.Context, argv []string, timeout time.Duration) (Result, error) {
	if len(argv) == 0 {
		return Result{ExitCode: -1}, &StartError{Err: errors.New("empty argv")}
	}

	queue := time.NewTimer(e.queueTimeout)
	defer queue.Stop()
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-queue.C:
		return Result{ExitCode: -1}, &StartError{Err: fmt.Errorf("queue full after %s", e.queueTimeout)}
	case <-ctx.Done():
		return Result{ExitCode: -1}, &StartError{Err: ctx.Err()}
	}

	stdout := newBoundedBuffer(e.maxOutput)
	stderr := newBoundedBuffer(e.maxOutput)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Own process group: timeout kills must reach grandchildren too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1, Elapsed: time.Since(start)}, &StartError{Err: err}
	}
	pgid := cmd.Process.Pid

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	timedOut := false
	canceled := false
	var cancelCause error
	select {
	case waitErr = <-done:
	case <-timer.C:
		timedOut = true
		waitErr = e.kill(pgid, done)
	case <-ctx.Done():
		canceled = true
		cancelCause = ctx.Err()
		waitErr = e.kill(pgid, done)
	}
	elapsed := time.Since(start)

	res := Result{
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		StdoutBytes:     stdout.Total(),
		StderrBytes:     stderr.Total(),
		Elapsed:         elapsed,
		TimedOut:        timedOut,
		Canceled:        canceled,
	}

	if timedOut {
		res.ExitCode = -1
		return res, &TimeoutError{Timeout: timeout}
	}
	if canceled {
		res.ExitCode = -1
		return res, &CancelError{Err: cancelCause}
	}
	res.ExitCode = exitCode(waitErr)
	return res, nil
}

// kill terminates the process group: SIGTERM first, SIGKILL after the grace
// window. Always waits for Wait to return so the process is fully reaped.
func (e *Executor) kill(pgid int, done chan error) error {
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	grace := time.NewTimer(e.grace)
	defer grace.Stop()
	select {
	case err := <-done:
		return err
	case <-grace.C:
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return <-done
	}
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
