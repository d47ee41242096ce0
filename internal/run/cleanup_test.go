package run

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryIDs(entries []CleanupEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func reasons(entries []CleanupEntry) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.ID] = e.Reason
	}
	return out
}

// createRuns creates n runs one day apart and returns their ids oldest
// first. The clock then sits one day after the newest run.
func createRuns(t *testing.T, r *Registry, c *clock, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range n {
		m, err := r.CreateRun(context.Background(), CreateOptions{})
		require.NoError(t, err)
		ids[i] = m.ID
		c.t = c.t.Add(24 * time.Hour)
	}
	return ids
}

func TestCleanupOldRuns_KeepLast(t *testing.T) {
	ctx := context.Background()
	r, c := newTestRegistry(t, false)
	ids := createRuns(t, r, c, 5)
	require.NoError(t, r.SetCurrentRun(ctx, ids[0]))

	report, err := r.CleanupOldRuns(ctx, CleanupOptions{KeepLast: 2})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{ids[1], ids[2]}, entryIDs(report.Deleted))
	kept := reasons(report.Kept)
	assert.Equal(t, ReasonCurrent, kept[ids[0]])
	assert.Equal(t, ReasonWithinKeepLast, kept[ids[4]])
	assert.Equal(t, ReasonWithinKeepLast, kept[ids[3]])
	assert.Equal(t, ReasonBeyondKeepLast, reasons(report.Deleted)[ids[1]])

	remaining, err := r.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 3)
}

func TestCleanupOldRuns_OlderThanDryRun(t *testing.T) {
	ctx := context.Background()
	r, c := newTestRegistry(t, false)
	ids := createRuns(t, r, c, 4)

	report, err := r.CleanupOldRuns(ctx, CleanupOptions{OlderThan: 60 * time.Hour, DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.ElementsMatch(t, []string{ids[0], ids[1]}, entryIDs(report.Deleted))
	for _, e := range report.Deleted {
		assert.Equal(t, ReasonOlderThan, e.Reason)
	}
	kept := reasons(report.Kept)
	assert.Equal(t, ReasonCurrent, kept[ids[3]])
	assert.Equal(t, ReasonRecent, kept[ids[2]])

	remaining, err := r.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 4, "dry run deletes nothing")
}

func TestCleanupOldRuns_IncludeCurrent(t *testing.T) {
	ctx := context.Background()
	r, c := newTestRegistry(t, false)
	ids := createRuns(t, r, c, 2)

	report, err := r.CleanupOldRuns(ctx, CleanupOptions{OlderThan: time.Hour, IncludeCurrent: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, entryIDs(report.Deleted))

	current, err := r.CurrentRunID(ctx)
	require.NoError(t, err)
	assert.Empty(t, current)
}
