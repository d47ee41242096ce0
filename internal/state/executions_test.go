package state

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t).ExecutionsForRun("")

	e, err := es.Create(ctx, Execution{TaskID: "ADHOC-T1", AgentRole: "implementer", InputTokens: 100})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^exec-\d+-[0-9a-f]{6}$`), e.ID)
	assert.Equal(t, testNow, e.StartedAt)
	assert.Equal(t, ExecutionPending, e.Status())

	other, err := es.Create(ctx, Execution{TaskID: "ADHOC-T2"})
	require.NoError(t, err)

	pending, err := es.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	done, err := es.Complete(ctx, e.ID, CompleteOptions{
		Success:         true,
		CommitSHA:       "abc123",
		InputTokens:     50,
		OutputTokens:    20,
		FollowUpTaskIDs: []string{"ADHOC-T3"},
	})
	require.NoError(t, err)
	assert.Equal(t, ExecutionSucceeded, done.Status())
	assert.Equal(t, 150, done.InputTokens)
	assert.Equal(t, "abc123", done.CommitSHA)
	assert.Equal(t, []string{"ADHOC-T3"}, done.FollowUpTaskIDs)

	failed, err := es.Complete(ctx, other.ID, CompleteOptions{Error: "tests failed"})
	require.NoError(t, err)
	assert.Equal(t, ExecutionFailed, failed.Status())

	succeeded, err := es.FilterByStatus(ctx, ExecutionSucceeded)
	require.NoError(t, err)
	require.Len(t, succeeded, 1)
	assert.Equal(t, e.ID, succeeded[0].ID)

	byTask, err := es.ByTask(ctx, "ADHOC-T2")
	require.NoError(t, err)
	require.Len(t, byTask, 1)
	assert.Equal(t, other.ID, byTask[0].ID)

	totals, err := es.TokenTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, TokenTotals{Input: 150, Output: 20, Total: 170}, totals)

	missing, err := es.Complete(ctx, "exec-0-000000", CompleteOptions{Success: true})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestExecutionStore_UpdateAndBatch(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t).ExecutionsForRun("")
	e, err := es.Create(ctx, Execution{TaskID: "ADHOC-T1"})
	require.NoError(t, err)

	got, err := es.Update(ctx, e.ID, ExecutionPatch{Branch: ptr("milhouse/adhoc-t1"), PRURL: ptr("https://example.com/pr/1")})
	require.NoError(t, err)
	assert.Equal(t, "milhouse/adhoc-t1", got.Branch)

	_, err = es.Update(ctx, e.ID, ExecutionPatch{OutputTokens: ptr(-1)})
	assert.Error(t, err)

	res, err := es.BatchUpdate(ctx, []ExecutionUpdate{
		{ID: e.ID, Patch: ExecutionPatch{CompletedAt: ptr(testNow), Success: ptr(true)}},
		{ID: "exec-missing", Patch: ExecutionPatch{}},
	})
	require.NoError(t, err)
	require.Len(t, res.Updated, 1)
	assert.Equal(t, ExecutionSucceeded, res.Updated[0].Status())
	assert.Equal(t, []string{"exec-missing"}, res.Missing)
}
