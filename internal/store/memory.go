package store

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// MemoryStore keeps history for the life of the process.
type MemoryStore struct {
	mu     sync.Mutex
	scopes map[string]map[string]int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scopes: make(map[string]map[string]int)}
}

func (m *MemoryStore) Assign(_ context.Context, scope string, batches map[string]int) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hist := m.scopes[scope]
	if hist == nil {
		hist = make(map[string]int, len(batches))
		m.scopes[scope] = hist
	}
	for id, idx := range batches {
		if _, ok := hist[id]; !ok {
			hist[id] = idx
		}
	}
	return maps.Clone(hist), nil
}

func (m *MemoryStore) Lookup(_ context.Context, scope string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := maps.Clone(m.scopes[scope])
	if out == nil {
		out = map[string]int{}
	}
	return out, nil
}

func (m *MemoryStore) ResetScope(_ context.Context, scope string) error {
	m.mu.Lock()
	delete(m.scopes, scope)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Scopes(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.scopes)), nil
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
