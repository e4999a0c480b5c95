// Package store provides a SQLite-backed journal of answered questions. Every
// request handled by the answering service is recorded with the provider that
// served it and the passages it was grounded on, so operators can audit what
// the assistant told whom.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Entry is one journaled request.
type Entry struct {
	// ID is assigned by Append when empty.
	ID       string
	Question string
	Answer   string
	// Provider is the label of the provider that answered, empty when none did.
	Provider string
	// ProviderUsed is "primary" or "fallback", empty when unanswered.
	ProviderUsed string
	Answered     bool
	// Sources are "document#chunk" references in prompt order.
	Sources  []string
	Duration time.Duration
	// CreatedAt is assigned by Append when zero.
	CreatedAt time.Time
}

// Journal persists answer entries. Implementations must be safe for
// concurrent use.
type Journal interface {
	// Append persists e.
	Append(ctx context.Context, e Entry) error
	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, n int) ([]Entry, error)
	// Close releases any resources held by the journal.
	Close() error
}

// SQLiteStore is a Journal backed by a local SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultDBPath returns the default path for the journal database.
// It resolves to ~/.secai/journal.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".secai")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "journal.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Single connection: avoids SQLITE_BUSY and keeps ":memory:" one database.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS answers (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT    NOT NULL UNIQUE,
    question      TEXT    NOT NULL,
    answer        TEXT    NOT NULL,
    provider      TEXT    NOT NULL,
    provider_used TEXT    NOT NULL CHECK(provider_used IN ('', 'primary', 'fallback')),
    answered      INTEGER NOT NULL,
    sources       TEXT    NOT NULL,  -- JSON array
    duration_ms   INTEGER NOT NULL,
    created_at    INTEGER NOT NULL   -- Unix milliseconds
);
CREATE INDEX IF NOT EXISTS idx_answers_created ON answers (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append persists e, assigning ID and CreatedAt when unset.
func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	sources := e.Sources
	if sources == nil {
		sources = []string{}
	}
	srcJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("store: append: encode sources: %w", err)
	}

	const q = `INSERT INTO answers
    (id, question, answer, provider, provider_used, answered, sources, duration_ms, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, e.ID, e.Question, e.Answer, e.Provider, e.ProviderUsed,
		e.Answered, string(srcJSON), e.Duration.Milliseconds(), e.CreatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first. n <= 0 returns nothing.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	const q = `
SELECT id, question, answer, provider, provider_used, answered, sources, duration_ms, created_at
FROM   answers
ORDER  BY created_at DESC, seq DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			srcJSON  string
			duration int64
			created  int64
		)
		if err := rows.Scan(&e.ID, &e.Question, &e.Answer, &e.Provider, &e.ProviderUsed,
			&e.Answered, &srcJSON, &duration, &created); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		if err := json.Unmarshal([]byte(srcJSON), &e.Sources); err != nil {
			return nil, fmt.Errorf("store: recent: decode sources of %s: %w", e.ID, err)
		}
		e.Duration = time.Duration(duration) * time.Millisecond
		e.CreatedAt = time.UnixMilli(created)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return entries, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
