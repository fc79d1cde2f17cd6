// Package store persists batch history: the lane each task was first seen
// in, per monitored scope.
package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// Backends accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// HistoryStore maps scope -> task id -> batch index. Assignments are
// first-write-wins and only ResetScope removes them.
type HistoryStore interface {
	// Assign records every task in batches that has no index yet in scope
	// and returns the scope's full map afterwards.
	Assign(ctx context.Context, scope string, batches map[string]int) (map[string]int, error)
	Lookup(ctx context.Context, scope string) (map[string]int, error)
	ResetScope(ctx context.Context, scope string) error
	Scopes(ctx context.Context) ([]string, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open returns a migrated store for backend.
func Open(ctx context.Context, backend, dbPath string) (HistoryStore, error) {
	var s HistoryStore
	switch backend {
	case BackendMemory:
		s = NewMemoryStore()
	case BackendSQLite, "":
		sq, err := NewSQLiteStore(dbPath)
		if err != nil {
			return nil, err
		}
		s = sq
	default:
		return nil, fmt.Errorf("unknown history backend %q", backend)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return s, nil
}

// sortedKeys gives inserts a stable order.
func sortedKeys(m map[string]int) []string {
	return slices.Sorted(maps.Keys(m))
}
