package tokenstore

import (
	"context"
	"sync"
)

// MemoryBackend keeps records in process memory.
type MemoryBackend struct {
	mu      sync.Mutex
	records []*Record
}

// Compile-time check to ensure MemoryBackend implements Backend
var _ Backend = (*MemoryBackend)(nil)

// NewMemoryStore returns a Store backed by process memory.
func NewMemoryStore(opts ...StoreOption) *Store {
	// NewStore only fails on a nil backend.
	s, _ := NewStore(&MemoryBackend{}, opts...)
	return s
}

// Load returns copies of the stored records.
func (m *MemoryBackend) Load(ctx context.Context) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Clone())
	}
	return out, nil
}

// Save replaces the stored records.
func (m *MemoryBackend) Save(ctx context.Context, records []*Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make([]*Record, 0, len(records))
	for _, r := range records {
		m.records = append(m.records, r.Clone())
	}
	return nil
}
