package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func backends(t *testing.T) map[string]HistoryStore {
	return map[string]HistoryStore{
		"memory": NewMemoryStore(),
		"sqlite": newTestStore(t),
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestAssign_FirstWriteWins(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			hist, err := s.Assign(ctx, "proj-a", map[string]int{"DT-001": 0, "DT-002": 0})
			require.NoError(t, err)
			assert.Equal(t, map[string]int{"DT-001": 0, "DT-002": 0}, hist)

			// the cohort moved on; known tasks keep their lane
			hist, err = s.Assign(ctx, "proj-a", map[string]int{"DT-002": 1, "DT-003": 1})
			require.NoError(t, err)
			assert.Equal(t, map[string]int{"DT-001": 0, "DT-002": 0, "DT-003": 1}, hist)

			got, err := s.Lookup(ctx, "proj-a")
			require.NoError(t, err)
			assert.Equal(t, hist, got)
		})
	}
}

func TestAssign_ScopesAreIsolated(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Assign(ctx, "proj-a", map[string]int{"DT-001": 2})
			require.NoError(t, err)
			_, err = s.Assign(ctx, "proj-b", map[string]int{"DT-001": 5})
			require.NoError(t, err)

			a, _ := s.Lookup(ctx, "proj-a")
			b, _ := s.Lookup(ctx, "proj-b")
			assert.Equal(t, 2, a["DT-001"])
			assert.Equal(t, 5, b["DT-001"])

			scopes, err := s.Scopes(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"proj-a", "proj-b"}, scopes)
		})
	}
}

func TestResetScope(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Assign(ctx, "proj-a", map[string]int{"DT-001": 2})
			require.NoError(t, err)
			_, err = s.Assign(ctx, "proj-b", map[string]int{"DT-009": 1})
			require.NoError(t, err)

			require.NoError(t, s.ResetScope(ctx, "proj-a"))

			a, err := s.Lookup(ctx, "proj-a")
			require.NoError(t, err)
			assert.Empty(t, a)
			b, _ := s.Lookup(ctx, "proj-b")
			assert.Len(t, b, 1)

			hist, err := s.Assign(ctx, "proj-a", map[string]int{"DT-001": 4})
			require.NoError(t, err)
			assert.Equal(t, 4, hist["DT-001"], "reset frees the lane")
		})
	}
}

func TestAssign_Concurrent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := s.Assign(ctx, "proj", map[string]int{"DT-001": i})
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			hist, err := s.Lookup(ctx, "proj")
			require.NoError(t, err)
			require.Contains(t, hist, "DT-001")
			assert.Len(t, hist, 1)
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, BackendMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, BackendSQLite, filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SQLiteStore{}, s)

	_, err = Open(ctx, "redis", "")
	assert.Error(t, err)
}
