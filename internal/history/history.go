// Package history keeps a queryable record of request dispositions in
// sqlite. It exists for operator convenience (`opgate history`); the
// hash-chained audit log remains the canonical record, and history writes
// are best-effort.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS requests (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ts          INTEGER NOT NULL,
    request_id  TEXT NOT NULL,
    operation   TEXT NOT NULL,
    status      TEXT NOT NULL,
    exit_code   INTEGER NOT NULL,
    elapsed_ms  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_ts ON requests(ts DESC);
`

// Entry is one recorded request disposition.
type Entry struct {
	ID        int64
	Timestamp time.Time
	RequestID string
	Operation string
	Status    string
	ExitCode  int
	ElapsedMs int64
}

// Store is a sqlite-backed history store. Safe for concurrent use; the
// driver serializes writers internally.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("history: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// modernc sqlite allows one writer; avoid lock contention errors.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record inserts one disposition row.
func (s *Store) Record(ctx context.Context, e Entry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests (ts, request_id, operation, status, exit_code, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ts.UnixMilli(), e.RequestID, e.Operation, e.Status, e.ExitCode, e.ElapsedMs)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit dispositions, newest first. An empty operation
// filter returns every operation.
func (s *Store) Recent(ctx context.Context, operation string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, ts, request_id, operation, status, exit_code, elapsed_ms
	          FROM requests`
	args := []any{}
	if operation != "" {
		query += ` WHERE operation = ?`
		args = append(args, operation)
	}
	query += ` ORDER BY ts DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ms int64
		if err := rows.Scan(&e.ID, &ms, &e.RequestID, &e.Operation, &e.Status, &e.ExitCode, &e.ElapsedMs); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.Timestamp = time.UnixMilli(ms)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return entries, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
