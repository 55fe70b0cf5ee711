// Package journal provides a SQLite-backed ingestion journal for the
// knowledge store. Every ingestion batch — successful or failed — is
// recorded with its source, item count, outcome, and duration, so operators
// can answer "what was added, when, and what broke" across restarts without
// grepping logs. The journal is bookkeeping only: the store's own snapshot
// remains the source of truth for the data itself.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Batch outcome values.
const (
	// StatusOK marks a batch whose items were all committed.
	StatusOK = "ok"
	// StatusFailed marks a batch that committed nothing.
	StatusFailed = "failed"
)

// Entry is one recorded ingestion batch.
type Entry struct {
	// ID is the journal row id.
	ID int64
	// Source labels where the batch came from (file path, "api", …).
	Source string
	// Items is the number of items committed (0 for a failed batch).
	Items int
	// Status is StatusOK or StatusFailed.
	Status string
	// Error is the failure cause, empty on success.
	Error string
	// Duration is the wall-clock time the batch took.
	Duration time.Duration
	// CreatedAt is when the batch finished.
	CreatedAt time.Time
}

// Store persists ingestion batch outcomes. Safe for concurrent use.
type Store struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the ingestion journal.
// It resolves to ~/.elevate/journal.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("journal: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".elevate")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("journal: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "journal.db"), nil
}

// Open opens (or creates) a Store at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS ingest_batches (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    source      TEXT    NOT NULL,
    items       INTEGER NOT NULL,
    status      TEXT    NOT NULL CHECK(status IN ('ok','failed')),
    error       TEXT    NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL,
    created_at  INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_ingest_batches_created
    ON ingest_batches (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

// Record persists one batch outcome. CreatedAt defaults to now when zero.
func (s *Store) Record(ctx context.Context, e Entry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	const q = `INSERT INTO ingest_batches (source, items, status, error, duration_ms, created_at)
	           VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q,
		e.Source, e.Items, e.Status, e.Error, e.Duration.Milliseconds(), created.Unix()); err != nil {
		return fmt.Errorf("journal: record: %w", err)
	}
	return nil
}

// Recent returns the most recent n entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	const q = `
SELECT id, source, items, status, error, duration_ms, created_at
FROM   ingest_batches
ORDER  BY created_at DESC, id DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var durMS, ts int64
		if err := rows.Scan(&e.ID, &e.Source, &e.Items, &e.Status, &e.Error, &durMS, &ts); err != nil {
			return nil, fmt.Errorf("journal: recent scan: %w", err)
		}
		e.Duration = time.Duration(durMS) * time.Millisecond
		e.CreatedAt = time.Unix(ts, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: recent rows: %w", err)
	}
	return entries, nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("journal: close: %w", err)
	}
	return nil
}
