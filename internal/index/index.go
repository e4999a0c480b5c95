// Package index holds the embedded corpus: every chunk with its vector,
// grouped per document and persisted through a [Store].
//
// The in-memory snapshot is the read path. Each document's record is
// immutable once published; an upsert builds a new record, persists it, and
// only then swaps it into the snapshot, so a concurrent query sees either the
// old chunk set of a document or the new one, never a mix.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/54b3r/secai-go/internal/loader"
	"github.com/54b3r/secai-go/internal/logging"
)

const (
	// DefaultTopK is used when a query asks for k <= 0.
	DefaultTopK = 4
	// DefaultBatchSize is the number of chunk texts sent per embedding call.
	DefaultBatchSize = 32
)

// Embedder converts texts into dense vectors.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Entry is one embedded chunk.
type Entry struct {
	Chunk  loader.Chunk
	Vector []float32
}

// Record is the complete indexed state of one document.
type Record struct {
	// DocumentID identifies the document.
	DocumentID string
	// ContentHash fingerprints the chunk sequence the entries were built from.
	ContentHash string
	// Entries are ordered by chunk index.
	Entries []Entry
	// IngestedAt is when the record was built.
	IngestedAt time.Time
}

// Framework returns the framework label shared by the record's chunks.
func (r *Record) Framework() string {
	if len(r.Entries) == 0 {
		return ""
	}
	return r.Entries[0].Chunk.Framework
}

// Store persists document records. Replace and Delete must be atomic per
// document: after a failed call the previously stored record is intact.
type Store interface {
	// Load returns every persisted record.
	Load(ctx context.Context) ([]*Record, error)
	// Replace stores rec, superseding any earlier record of the same document.
	Replace(ctx context.Context, rec *Record) error
	// Delete removes a document. Deleting an unknown document is not an error.
	Delete(ctx context.Context, documentID string) error
	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
	// Close releases any resources held by the store.
	Close() error
}

// Hit is a scored query result.
type Hit struct {
	Entry
	// Score is the cosine similarity between the query and the entry, in [-1, 1].
	Score float32
}

// EmbeddingError reports a failure of the embedding capability. The index is
// left unchanged when an upsert returns it.
type EmbeddingError struct {
	// DocumentID is empty when a query embedding failed.
	DocumentID string
	Err        error
}

func (e *EmbeddingError) Error() string {
	if e.DocumentID == "" {
		return fmt.Sprintf("index: embedding failed: %v", e.Err)
	}
	return fmt.Sprintf("index: embedding failed for %q: %v", e.DocumentID, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// ErrNoChunks is returned when an upsert carries no chunks.
var ErrNoChunks = errors.New("index: document has no chunks")

// Config configures an Index.
type Config struct {
	// Embedder produces vectors for chunks and queries. Required.
	Embedder Embedder
	// Store persists records. Defaults to an in-memory store.
	Store Store
	// Dimensions is the expected vector size. Zero accepts the size of the
	// first vector seen.
	Dimensions int
	// DefaultTopK is used for queries with k <= 0. Defaults to 4.
	DefaultTopK int
	// BatchSize bounds the texts per embedding call. Defaults to 32.
	BatchSize int
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Index is a concurrency-safe vector index over the corpus.
type Index struct {
	embedder    Embedder
	store       Store
	defaultTopK int
	batchSize   int
	now         func() time.Time

	// mu guards docs and dim. It is never held across embedder or store calls.
	mu   sync.RWMutex
	docs map[string]*Record
	dim  int

	// writers serializes upserts and deletes of the same document.
	writers keyedMutex
}

// UpsertResult describes the outcome of an Upsert.
type UpsertResult struct {
	// Skipped is true when the document was unchanged and not re-embedded.
	Skipped bool
	// Chunks is the number of entries the document now has in the index.
	Chunks int
}

// DocumentInfo summarizes one indexed document.
type DocumentInfo struct {
	ID          string
	Chunks      int
	Framework   string
	ContentHash string
	IngestedAt  time.Time
}

// Open builds an Index and loads every record already persisted in the
// store. Records whose vector size does not match the configured dimensions
// are dropped from the snapshot with a warning so a re-ingest rebuilds them.
func Open(ctx context.Context, cfg *Config) (*Index, error) {
	if cfg == nil || cfg.Embedder == nil {
		return nil, fmt.Errorf("index: embedder must not be nil")
	}
	ix := &Index{
		embedder:    cfg.Embedder,
		store:       cfg.Store,
		defaultTopK: cfg.DefaultTopK,
		batchSize:   cfg.BatchSize,
		now:         cfg.Now,
		docs:        make(map[string]*Record),
		dim:         cfg.Dimensions,
	}
	if ix.store == nil {
		ix.store = NewMemoryStore()
	}
	if ix.defaultTopK <= 0 {
		ix.defaultTopK = DefaultTopK
	}
	if ix.batchSize <= 0 {
		ix.batchSize = DefaultBatchSize
	}
	if ix.now == nil {
		ix.now = time.Now
	}

	records, err := ix.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("index: load persisted records: %w", err)
	}

	log := logging.FromContext(ctx)
	for _, rec := range records {
		d := recordDim(rec)
		if d == 0 {
			continue
		}
		if ix.dim == 0 {
			ix.dim = d
		}
		if d != ix.dim {
			log.Warn("index: dropping record with mismatched vector size",
				slog.String("document", rec.DocumentID),
				slog.Int("got", d),
				slog.Int("want", ix.dim),
			)
			continue
		}
		ix.docs[rec.DocumentID] = rec
	}

	log.Debug("index: opened", slog.Int("documents", len(ix.docs)), slog.Int("dimensions", ix.dim))
	return ix, nil
}

// Upsert embeds and stores the chunks of one document, replacing whatever the
// index held for it. When the chunk sequence is unchanged and force is false
// nothing is embedded and the result is marked Skipped.
func (ix *Index) Upsert(ctx context.Context, documentID string, chunks []loader.Chunk, force bool) (UpsertResult, error) {
	if len(chunks) == 0 {
		return UpsertResult{}, fmt.Errorf("%w: %q", ErrNoChunks, documentID)
	}
	for i, c := range chunks {
		if c.DocumentID != documentID {
			return UpsertResult{}, fmt.Errorf("index: chunk %d belongs to %q, not %q", i, c.DocumentID, documentID)
		}
	}

	unlock := ix.writers.Lock(documentID)
	defer unlock()

	hash := ContentHash(chunks)

	ix.mu.RLock()
	prev := ix.docs[documentID]
	ix.mu.RUnlock()

	if !force && prev != nil && prev.ContentHash == hash {
		return UpsertResult{Skipped: true, Chunks: len(prev.Entries)}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := ix.embed(ctx, texts)
	if err != nil {
		return UpsertResult{}, &EmbeddingError{DocumentID: documentID, Err: err}
	}

	entries := make([]Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = Entry{Chunk: c, Vector: vectors[i]}
	}
	rec := &Record{
		DocumentID:  documentID,
		ContentHash: hash,
		Entries:     entries,
		IngestedAt:  ix.now().UTC().Truncate(time.Millisecond),
	}

	if err := ix.store.Replace(ctx, rec); err != nil {
		return UpsertResult{}, fmt.Errorf("index: persist %q: %w", documentID, err)
	}

	ix.mu.Lock()
	ix.docs[documentID] = rec
	ix.mu.Unlock()

	return UpsertResult{Chunks: len(entries)}, nil
}

// Delete removes a document from the store and the snapshot.
func (ix *Index) Delete(ctx context.Context, documentID string) error {
	unlock := ix.writers.Lock(documentID)
	defer unlock()

	if err := ix.store.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("index: delete %q: %w", documentID, err)
	}

	ix.mu.Lock()
	delete(ix.docs, documentID)
	ix.mu.Unlock()
	return nil
}

// Query returns the k entries most similar to text, best first. Equal scores
// are ordered by document id and then chunk index. An empty index yields an
// empty result.
func (ix *Index) Query(ctx context.Context, text string, k int) ([]Hit, error) {
	if k <= 0 {
		k = ix.defaultTopK
	}

	ix.mu.RLock()
	records := make([]*Record, 0, len(ix.docs))
	for _, rec := range ix.docs {
		records = append(records, rec)
	}
	ix.mu.RUnlock()

	if len(records) == 0 {
		return []Hit{}, nil
	}

	vectors, err := ix.embed(ctx, []string{text})
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}
	q := vectors[0]
	qNorm := norm(q)

	var hits []Hit
	for _, rec := range records {
		for _, e := range rec.Entries {
			hits = append(hits, Hit{Entry: e, Score: cosine(q, qNorm, e.Vector)})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.DocumentID != b.Chunk.DocumentID {
			return a.Chunk.DocumentID < b.Chunk.DocumentID
		}
		return a.Chunk.Index < b.Chunk.Index
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Documents lists the indexed documents sorted by id.
func (ix *Index) Documents() []DocumentInfo {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]DocumentInfo, 0, len(ix.docs))
	for _, rec := range ix.docs {
		out = append(out, DocumentInfo{
			ID:          rec.DocumentID,
			Chunks:      len(rec.Entries),
			Framework:   rec.Framework(),
			ContentHash: rec.ContentHash,
			IngestedAt:  rec.IngestedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the total number of indexed chunks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := 0
	for _, rec := range ix.docs {
		n += len(rec.Entries)
	}
	return n
}

// Dimensions returns the vector size of the index, or 0 before the first vector.
func (ix *Index) Dimensions() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dim
}

// Ping checks the backing store.
func (ix *Index) Ping(ctx context.Context) error {
	return ix.store.Ping(ctx)
}

// Close releases the backing store.
func (ix *Index) Close() error {
	return ix.store.Close()
}

// embed runs the embedder in batches and validates the vector count and size.
func (ix *Index) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += ix.batchSize {
		end := min(start+ix.batchSize, len(texts))
		batch, err := ix.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(batch), end-start)
		}
		out = append(out, batch...)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i, v := range out {
		if len(v) == 0 {
			return nil, fmt.Errorf("embedder returned an empty vector at position %d", i)
		}
		if ix.dim == 0 {
			ix.dim = len(v)
		}
		if len(v) != ix.dim {
			return nil, fmt.Errorf("embedder returned %d dimensions, index uses %d", len(v), ix.dim)
		}
	}
	return out, nil
}

// ContentHash fingerprints a chunk sequence: text, offsets and framework of
// every chunk in order.
func ContentHash(chunks []loader.Chunk) string {
	h := sha256.New()
	var buf [8]byte
	for _, c := range chunks {
		binary.LittleEndian.PutUint32(buf[:4], uint32(c.Start))
		binary.LittleEndian.PutUint32(buf[4:], uint32(c.End))
		h.Write(buf[:])
		h.Write([]byte(c.Framework))
		h.Write([]byte{0})
		h.Write([]byte(c.Text))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// recordDim returns the vector size of rec, or 0 if it has no entries.
func recordDim(rec *Record) int {
	if len(rec.Entries) == 0 {
		return 0
	}
	return len(rec.Entries[0].Vector)
}
