package schedstore

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and single-run setups.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string][]byte)}
}

// SaveSnapshot implements Store.
func (s *MemoryStore) SaveSnapshot(_ context.Context, managerID string, blob []byte) error {
	cp := make([]byte, len(blob))
	copy(cp, blob)
	s.mu.Lock()
	s.snapshots[managerID] = cp
	s.mu.Unlock()
	return nil
}

// LoadSnapshot implements Store.
func (s *MemoryStore) LoadSnapshot(_ context.Context, managerID string) ([]byte, error) {
	s.mu.RLock()
	blob, ok := s.snapshots[managerID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	return cp, nil
}

// DeleteSnapshot implements Store.
func (s *MemoryStore) DeleteSnapshot(_ context.Context, managerID string) error {
	s.mu.Lock()
	delete(s.snapshots, managerID)
	s.mu.Unlock()
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
