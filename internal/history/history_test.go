package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	rows := []Entry{
		{RequestID: "a", Operation: "disk_usage", Status: "ok", ExitCode: 0, ElapsedMs: 12, Timestamp: base},
		{RequestID: "b", Operation: "restart_service", Status: "confirmation_required", ExitCode: -1, Timestamp: base.Add(time.Second)},
		{RequestID: "c", Operation: "disk_usage", Status: "execution_nonzero_exit", ExitCode: 2, ElapsedMs: 40, Timestamp: base.Add(2 * time.Second)},
	}
	for _, e := range rows {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3", len(got))
	}
	// Newest first.
	if got[0].RequestID != "c" || got[2].RequestID != "a" {
		t.Errorf("order = %s,%s,%s, want c,b,a", got[0].RequestID, got[1].RequestID, got[2].RequestID)
	}
	if got[0].ExitCode != 2 || got[0].Status != "execution_nonzero_exit" {
		t.Errorf("entry round-trip mismatch: %+v", got[0])
	}
}

func TestRecentFiltersByOperation(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	for _, op := range []string{"a_op", "b_op", "a_op"} {
		if err := s.Record(ctx, Entry{RequestID: "x", Operation: op, Status: "ok"}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Recent(ctx, "a_op", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("filtered entries = %d, want 2", len(got))
	}
	for _, e := range got {
		if e.Operation != "a_op" {
			t.Errorf("filter leaked operation %q", e.Operation)
		}
	}
}

func TestRecentLimit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		if err := s.Record(ctx, Entry{RequestID: "x", Operation: "op", Status: "ok"}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.Recent(ctx, "", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Errorf("entries = %d, want 5", len(got))
	}

	// Zero limit falls back to the default page size.
	got, err = s.Recent(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 20 {
		t.Errorf("default page = %d, want 20", len(got))
	}
}
