package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/milhouse/internal/filelock"
)

var testNow = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

type fixedRun string

func (f fixedRun) CurrentRunID(context.Context) (string, error) { return string(f), nil }

func newTestStore(t *testing.T, opts ...func(*Options)) *Store {
	t.Helper()
	o := Options{
		Locks: filelock.Options{
			Retries: 5,
			Stale:   10 * time.Second,
			MinWait: 5 * time.Millisecond,
			MaxWait: 20 * time.Millisecond,
			Queue:   filelock.NewQueue(),
		},
		Now: func() time.Time { return testNow },
	}
	for _, fn := range opts {
		fn(&o)
	}
	return New(t.TempDir(), o)
}

// makeRun creates the directory of a run so run-scoped writes are accepted.
func makeRun(t *testing.T, s *Store, runID string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(s.Paths().StateDir(runID), 0755))
}

func writeRaw(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readRaw(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func ptr[T any](v T) *T { return &v }
