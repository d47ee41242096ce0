package history

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/milhouse/internal/errors"
	"github.com/Iron-Ham/milhouse/internal/filelock"
	"github.com/Iron-Ham/milhouse/internal/paths"
)

var testNow = time.Date(2026, 10, 18, 9, 30, 12, 345_000_000, time.UTC)

func newTestStore(t *testing.T, opts Options) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	opts.Locks = filelock.Options{
		Retries: 5,
		Stale:   10 * time.Second,
		MinWait: 5 * time.Millisecond,
		MaxWait: 20 * time.Millisecond,
		Queue:   filelock.NewQueue(),
	}
	return New(dir, opts), dir
}

func issuesJSON(ids ...string) json.RawMessage {
	recs := make([]map[string]any, len(ids))
	for i, id := range ids {
		recs[i] = map[string]any{"id": id, "symptom": "symptom " + id}
	}
	data, _ := json.Marshal(recs)
	return data
}

func TestFormatID(t *testing.T) {
	assert.Equal(t, "2026-10-18T09-30-12-345Z", FormatID(testNow))
	assert.Equal(t, "2026-10-18T09-30-12-345Z", FormatID(testNow.In(time.FixedZone("X", 3600))))
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, Options{})
	data := issuesJSON("P-1", "P-2")

	meta, err := s.SaveSnapshot(ctx, "", paths.KeyIssues, data, SaveOptions{Reason: "after scan", AgentID: "scanner"})
	require.NoError(t, err)
	assert.Equal(t, "2026-10-18T09-30-12-345Z", meta.ID)
	assert.Equal(t, paths.KeyIssues, meta.StateType)
	assert.Equal(t, len(data), meta.SizeBytes)

	snap, err := s.LoadSnapshot(ctx, "", paths.KeyIssues, meta.ID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.JSONEq(t, string(data), string(snap.Data))
	assert.Equal(t, "after scan", snap.Meta.Reason)
	assert.Equal(t, "scanner", snap.Meta.AgentID)

	missing, err := s.LoadSnapshot(ctx, "", paths.KeyIssues, "2000-01-01T00-00-00-000Z")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSaveSnapshot_IDsNeverCollide(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, Options{})

	seen := map[string]bool{}
	for range 5 {
		meta, err := s.SaveSnapshot(ctx, "", paths.KeyTasks, []any{}, SaveOptions{})
		require.NoError(t, err)
		assert.False(t, seen[meta.ID], "duplicate id %s", meta.ID)
		seen[meta.ID] = true
	}

	// A second store sharing the directory skips ids already on disk.
	other := New(s.paths.WorkDir(), Options{Now: func() time.Time { return testNow }})
	meta, err := other.SaveSnapshot(ctx, "", paths.KeyTasks, []any{}, SaveOptions{})
	require.NoError(t, err)
	assert.False(t, seen[meta.ID])
}

func TestSaveSnapshot_RejectsUnknownRunAndType(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, Options{})

	_, err := s.SaveSnapshot(ctx, "missing-run", paths.KeyIssues, []any{}, SaveOptions{})
	assert.True(t, errors.Is(err, errors.ErrRunNotFound))

	_, err = s.SaveSnapshot(ctx, "", paths.KeyMeta, map[string]any{}, SaveOptions{})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestSaveSnapshot_Disabled(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t, Options{Disabled: true})

	meta, err := s.SaveSnapshot(ctx, "", paths.KeyIssues, issuesJSON("P-1"), SaveOptions{Reason: "noop"})
	require.NoError(t, err)
	assert.NotEmpty(t, meta.ID)
	assert.Equal(t, "noop", meta.Reason)

	_, statErr := os.Stat(paths.New(dir).HistoryRoot(""))
	assert.True(t, os.IsNotExist(statErr))

	list, err := s.ListSnapshots(ctx, "", paths.KeyIssues)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEnforceLimit_KeepsNewest(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, Options{})

	var ids []string
	for range 5 {
		meta, err := s.SaveSnapshot(ctx, "", paths.KeyIssues, issuesJSON("P-1"), SaveOptions{})
		require.NoError(t, err)
		ids = append(ids, meta.ID)
	}

	deleted, err := s.EnforceLimit(ctx, "", paths.KeyIssues, 3)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids[:2], deleted)

	list, err := s.ListSnapshots(ctx, "", paths.KeyIssues)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{ids[4], ids[3], ids[2]}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestSaveSnapshot_AppliesRetentionCap(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, Options{MaxSnapshots: 2})

	for range 4 {
		_, err := s.SaveSnapshot(ctx, "", paths.KeyGraph, []any{}, SaveOptions{})
		require.NoError(t, err)
	}
	list, err := s.ListSnapshots(ctx, "", paths.KeyGraph)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestListSnapshots_SkipsCorruptFiles(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t, Options{})

	meta, err := s.SaveSnapshot(ctx, "", paths.KeyTasks, []any{}, SaveOptions{})
	require.NoError(t, err)

	histDir := paths.New(dir).HistoryDir("", paths.KeyTasks)
	require.NoError(t, os.WriteFile(filepath.Join(histDir, "broken.json"), []byte("{nope"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(histDir, "README"), []byte("ignored"), 0644))

	list, err := s.ListSnapshots(ctx, "", paths.KeyTasks)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, meta.ID, list[0].ID)

	latest, err := s.LatestSnapshot(ctx, "", paths.KeyTasks)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, meta.ID, latest.Meta.ID)
}

func TestRollback_RestoresAndBacksUp(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t, Options{})
	live := filepath.Join(paths.New(dir).LegacyStateDir(), "issues.json")

	original := issuesJSON("P-1", "P-2")
	meta, err := s.SaveSnapshot(ctx, "", paths.KeyIssues, original, SaveOptions{Reason: "checkpoint"})
	require.NoError(t, err)

	current := issuesJSON("P-3")
	require.NoError(t, os.MkdirAll(filepath.Dir(live), 0755))
	require.NoError(t, os.WriteFile(live, current, 0644))

	res, err := s.Rollback(ctx, "", paths.KeyIssues, meta.ID, RollbackOptions{AgentID: "operator"})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.Backup)
	assert.True(t, strings.HasPrefix(res.Backup.Reason, BackupReasonPrefix))
	assert.Contains(t, res.Backup.Reason, meta.ID)

	restored, err := os.ReadFile(live)
	require.NoError(t, err)
	assert.JSONEq(t, string(original), string(restored))

	list, err := s.ListSnapshots(ctx, "", paths.KeyIssues)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, res.Backup.ID, list[0].ID)

	backup, err := s.LoadSnapshot(ctx, "", paths.KeyIssues, res.Backup.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(current), string(backup.Data))

	_, err = os.Stat(live + filelock.LockSuffix)
	assert.True(t, os.IsNotExist(err), "lock file should be released")
}

func TestRollback_SkipBackupAndMissing(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, Options{})

	meta, err := s.SaveSnapshot(ctx, "", paths.KeyTasks, []any{}, SaveOptions{})
	require.NoError(t, err)

	res, err := s.Rollback(ctx, "", paths.KeyTasks, meta.ID, RollbackOptions{SkipBackup: true})
	require.NoError(t, err)
	assert.Nil(t, res.Backup)

	list, err := s.ListSnapshots(ctx, "", paths.KeyTasks)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	none, err := s.Rollback(ctx, "", paths.KeyTasks, "2000-01-01T00-00-00-000Z", RollbackOptions{})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, Options{})

	var ids []string
	for range 3 {
		meta, err := s.SaveSnapshot(ctx, "", paths.KeyExecutions, []any{}, SaveOptions{})
		require.NoError(t, err)
		ids = append(ids, meta.ID)
	}

	ok, err := s.DeleteSnapshot(ctx, "", paths.KeyExecutions, ids[0])
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.DeleteSnapshot(ctx, "", paths.KeyExecutions, ids[0])
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.DeleteSnapshot(ctx, "", paths.KeyExecutions, "../escape")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.ClearHistory(ctx, "", paths.KeyExecutions)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCompare(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, Options{})

	a, err := s.SaveSnapshot(ctx, "", paths.KeyIssues, json.RawMessage(`[
		{"id":"P-1","symptom":"a"},
		{"id":"P-2","symptom":"b"},
		{"id":"P-3","symptom":"c"}
	]`), SaveOptions{})
	require.NoError(t, err)
	b, err := s.SaveSnapshot(ctx, "", paths.KeyIssues, json.RawMessage(`[
		{"symptom":"a","id":"P-1"},
		{"id":"P-2","symptom":"changed"},
		{"id":"P-4","symptom":"d"}
	]`), SaveOptions{})
	require.NoError(t, err)

	d, err := s.Compare(ctx, "", paths.KeyIssues, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"P-4"}, d.Added)
	assert.Equal(t, []string{"P-3"}, d.Removed)
	assert.Equal(t, []string{"P-2"}, d.Changed)
	assert.False(t, d.Empty())

	_, err = s.Compare(ctx, "", paths.KeyIssues, a.ID, "2000-01-01T00-00-00-000Z")
	assert.True(t, errors.Is(err, errors.ErrSnapshotNotFound))
}
