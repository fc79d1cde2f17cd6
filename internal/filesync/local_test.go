package filesync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contentIs(c *Channel, doc Doc, want *string) func() bool {
	return func() bool {
		got, known := c.Content(doc)
		if !known {
			return false
		}
		if want == nil || got == nil {
			return want == nil && got == nil
		}
		return *got == *want
	}
}

func TestLocalSource_MirrorsDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PRDFile), []byte("prd-v1"), 0o644))

	c := New(NewLocalSource(dir, WithDebounce(10*time.Millisecond)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, contentIs(c, DocPRD, strPtr("prd-v1")), 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, contentIs(c, DocProgress, nil), 2*time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ProgressFile), []byte("## 2026-01-01 - DT-001\n"), 0o644))
	require.Eventually(t, contentIs(c, DocProgress, strPtr("## 2026-01-01 - DT-001\n")), 2*time.Second, 5*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, PRDFile)))
	require.Eventually(t, contentIs(c, DocPRD, nil), 2*time.Second, 5*time.Millisecond)

	// unrelated files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("x"), 0o644))

	cancel()
	assert.NoError(t, <-done)
}

func TestLocalSource_MissingDirectory(t *testing.T) {
	c := New(NewLocalSource(filepath.Join(t.TempDir(), "missing")))
	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch")
}
