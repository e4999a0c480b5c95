package index

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process memory only. It is the default store
// of an Index opened without one and is used by tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Load returns the stored records sorted by document id.
func (m *MemoryStore) Load(_ context.Context) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

// Replace stores rec.
func (m *MemoryStore) Replace(_ context.Context, rec *Record) error {
	m.mu.Lock()
	m.records[rec.DocumentID] = rec
	m.mu.Unlock()
	return nil
}

// Delete removes a document.
func (m *MemoryStore) Delete(_ context.Context, documentID string) error {
	m.mu.Lock()
	delete(m.records, documentID)
	m.mu.Unlock()
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
