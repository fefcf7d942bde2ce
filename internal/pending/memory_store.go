package pending

import (
	"context"
	"sync"
)

// MemoryStore keeps the pending purchase in memory. Used in tests and
// ephemeral sessions.
type MemoryStore struct {
	mu  sync.Mutex
	rec *Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	s.rec = &rec
	s.mu.Unlock()
	return nil
}

// Consume implements Store.
func (s *MemoryStore) Consume(_ context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return Record{}, ErrNoPending
	}
	rec := *s.rec
	s.rec = nil
	return rec, nil
}

// Peek implements Store.
func (s *MemoryStore) Peek(_ context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return Record{}, ErrNoPending
	}
	return *s.rec, nil
}
