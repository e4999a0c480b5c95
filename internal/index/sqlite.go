package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/54b3r/secai-go/internal/loader"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// SQLiteStore persists records in a local SQLite database. It is the default
// store for single-host deployments.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultSQLitePath returns ~/.secai/index.db, creating the directory if needed.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("index: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".secai")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("index: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "index.db"), nil
}

// OpenSQLite opens (or creates) a SQLiteStore at path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", path, err)
	}
	// A single connection serializes writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id           TEXT    PRIMARY KEY,
    content_hash TEXT    NOT NULL,
    ingested_at  INTEGER NOT NULL  -- Unix timestamp (milliseconds)
);
CREATE TABLE IF NOT EXISTS chunks (
    document_id  TEXT    NOT NULL,
    chunk_index  INTEGER NOT NULL,
    text         TEXT    NOT NULL,
    start_offset INTEGER NOT NULL,
    end_offset   INTEGER NOT NULL,
    framework    TEXT    NOT NULL DEFAULT '',
    vector       BLOB    NOT NULL,  -- little-endian float32
    PRIMARY KEY (document_id, chunk_index)
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("index: migrate: %w", err)
	}
	return nil
}

// Load returns every persisted record with its entries ordered by chunk index.
func (s *SQLiteStore) Load(ctx context.Context) ([]*Record, error) {
	const q = `
SELECT d.id, d.content_hash, d.ingested_at,
       c.chunk_index, c.text, c.start_offset, c.end_offset, c.framework, c.vector
FROM   documents d
JOIN   chunks c ON c.document_id = d.id
ORDER  BY d.id, c.chunk_index`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("index: load: %w", err)
	}
	defer rows.Close()

	var (
		records []*Record
		cur     *Record
	)
	for rows.Next() {
		var (
			id, hash string
			ts       int64
			c        loader.Chunk
			blob     []byte
		)
		if err := rows.Scan(&id, &hash, &ts, &c.Index, &c.Text, &c.Start, &c.End, &c.Framework, &blob); err != nil {
			return nil, fmt.Errorf("index: load scan: %w", err)
		}
		if cur == nil || cur.DocumentID != id {
			cur = &Record{DocumentID: id, ContentHash: hash, IngestedAt: time.UnixMilli(ts).UTC()}
			records = append(records, cur)
		}
		c.DocumentID = id
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("index: load %q chunk %d: %w", id, c.Index, err)
		}
		cur.Entries = append(cur.Entries, Entry{Chunk: c, Vector: vec})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: load rows: %w", err)
	}
	return records, nil
}

// Replace swaps the stored chunks of rec.DocumentID for rec's entries in a
// single transaction.
func (s *SQLiteStore) Replace(ctx context.Context, rec *Record) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: replace begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, rec.DocumentID); err != nil {
		return fmt.Errorf("index: replace clear %q: %w", rec.DocumentID, err)
	}

	const upsertDoc = `
INSERT INTO documents (id, content_hash, ingested_at) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET content_hash = excluded.content_hash, ingested_at = excluded.ingested_at`
	if _, err = tx.ExecContext(ctx, upsertDoc, rec.DocumentID, rec.ContentHash, rec.IngestedAt.UnixMilli()); err != nil {
		return fmt.Errorf("index: replace document %q: %w", rec.DocumentID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks (document_id, chunk_index, text, start_offset, end_offset, framework, vector)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: replace prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range rec.Entries {
		c := e.Chunk
		if _, err = stmt.ExecContext(ctx, rec.DocumentID, c.Index, c.Text, c.Start, c.End, c.Framework, encodeVector(e.Vector)); err != nil {
			return fmt.Errorf("index: replace chunk %d of %q: %w", c.Index, rec.DocumentID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("index: replace commit: %w", err)
	}
	return nil
}

// Delete removes a document and its chunks.
func (s *SQLiteStore) Delete(ctx context.Context, documentID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: delete begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("index: delete chunks %q: %w", documentID, err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, documentID); err != nil {
		return fmt.Errorf("index: delete document %q: %w", documentID, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("index: delete commit: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("index: sqlite ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("index: close: %w", err)
	}
	return nil
}

// encodeVector packs v as little-endian float32 values.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// decodeVector is the inverse of encodeVector.
func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
