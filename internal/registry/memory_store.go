package registry

import (
	"context"
	"sync"
)

// MemoryStore keeps the most recent snapshots in process.
type MemoryStore struct {
	mu      sync.RWMutex
	history []Snapshot
	limit   int
}

// NewMemoryStore creates a store that retains up to limit snapshots.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = 20
	}
	return &MemoryStore{limit: limit}
}

// Save prepends the snapshot to the history.
func (m *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append([]Snapshot{snap}, m.history...)
	if len(m.history) > m.limit {
		m.history = m.history[:m.limit]
	}
	return nil
}

// Latest returns the most recently saved snapshot.
func (m *MemoryStore) Latest(_ context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) == 0 {
		return Snapshot{}, ErrNoSnapshot
	}
	return m.history[0], nil
}

// History returns saved snapshots, newest first.
func (m *MemoryStore) History() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Snapshot(nil), m.history...)
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
