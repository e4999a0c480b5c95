// Package rag retrieves the context passages for a question from the
// embedding index. Retrieval is read-only: it never mutates the index.
package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/secai-go/internal/index"
	"github.com/54b3r/secai-go/internal/logging"
)

// DefaultTopK is the number of passages returned when the caller passes k <= 0.
const DefaultTopK = index.DefaultTopK

// overfetch is the multiple of k requested from the index so that removing
// near-duplicates still leaves k passages where the corpus allows it.
const overfetch = 2

// Searcher is the similarity search the retriever runs against.
// *index.Index satisfies it.
type Searcher interface {
	Query(ctx context.Context, text string, k int) ([]index.Hit, error)
}

// Retriever is the interface used by the answering service to fetch relevant
// context for a given query.
// Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Retrieve returns up to k passages ordered by descending similarity.
	Retrieve(ctx context.Context, query string, k int) ([]index.Hit, error)
}

// DefaultRetriever queries a Searcher and drops near-duplicate passages.
type DefaultRetriever struct {
	// searcher performs the vector similarity search.
	searcher Searcher

	// defaultTopK is the number of results to return when the caller passes 0.
	defaultTopK int
}

// NewRetriever constructs a DefaultRetriever over searcher.
// defaultTopK sets the result count when Retrieve is called with k <= 0.
func NewRetriever(searcher Searcher, defaultTopK int) (*DefaultRetriever, error) {
	if searcher == nil {
		return nil, fmt.Errorf("rag: searcher must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return &DefaultRetriever{searcher: searcher, defaultTopK: defaultTopK}, nil
}

// Retrieve returns at most k passages for query, best first. Passages that
// overlap a better-scoring passage of the same document by more than half of
// the shorter one, or repeat its text, are dropped.
func (r *DefaultRetriever) Retrieve(ctx context.Context, query string, k int) ([]index.Hit, error) {
	if k <= 0 {
		k = r.defaultTopK
	}

	candidates, err := r.searcher.Query(ctx, query, k*overfetch)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	hits := Dedup(candidates)
	if len(hits) > k {
		hits = hits[:k]
	}

	logging.FromContext(ctx).Debug("rag: retrieved passages",
		slog.Int("candidates", len(candidates)),
		slog.Int("returned", len(hits)),
	)
	return hits, nil
}

// Dedup removes near-duplicate hits. hits must be sorted best first; the
// first hit of every duplicate group is kept and the order is preserved.
func Dedup(hits []index.Hit) []index.Hit {
	out := make([]index.Hit, 0, len(hits))
	for _, h := range hits {
		dup := false
		for _, kept := range out {
			if nearDuplicate(kept, h) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, h)
		}
	}
	return out
}

// nearDuplicate reports whether a and b cover substantially the same text:
// identical text anywhere, or ranges of one document overlapping by more
// than half of the shorter chunk. Neighbouring chunks from Split share only
// the configured overlap and are both kept.
func nearDuplicate(a, b index.Hit) bool {
	if a.Chunk.Text == b.Chunk.Text {
		return true
	}
	if a.Chunk.DocumentID != b.Chunk.DocumentID {
		return false
	}
	overlap := min(a.Chunk.End, b.Chunk.End) - max(a.Chunk.Start, b.Chunk.Start)
	if overlap <= 0 {
		return false
	}
	shorter := min(a.Chunk.End-a.Chunk.Start, b.Chunk.End-b.Chunk.Start)
	return 2*overlap > shorter
}
