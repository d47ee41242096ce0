package state

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/milhouse/internal/errors"
)

var issueIDPattern = regexp.MustCompile(`^P-[0-9a-f]{8}$`)

func TestIssueStore_CreateDefaults(t *testing.T) {
	ctx := context.Background()
	is := newTestStore(t).IssuesForRun("")

	iss, err := is.Create(ctx, Issue{Symptom: "login page 500s"})
	require.NoError(t, err)
	assert.Regexp(t, issueIDPattern, iss.ID)
	assert.Equal(t, IssueUnvalidated, iss.Status)
	assert.Equal(t, SeverityMedium, iss.Severity)
	assert.NotNil(t, iss.Evidence)
	assert.NotNil(t, iss.RelatedTaskIDs)
	assert.Equal(t, testNow, iss.CreatedAt)

	got, err := is.Read(ctx, iss.ID)
	require.NoError(t, err)
	assert.Equal(t, iss.Symptom, got.Symptom)
}

func TestIssueStore_CreateExplicitID(t *testing.T) {
	ctx := context.Background()
	is := newTestStore(t).IssuesForRun("")

	_, err := is.Create(ctx, Issue{ID: "P-00000001", Symptom: "a"})
	require.NoError(t, err)

	_, err = is.Create(ctx, Issue{ID: "P-00000001", Symptom: "b"})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = is.Create(ctx, Issue{Symptom: "c", Severity: "URGENT"})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestIssueStore_UpdateAndFilter(t *testing.T) {
	ctx := context.Background()
	is := newTestStore(t).IssuesForRun("")
	a, err := is.Create(ctx, Issue{Symptom: "a", Severity: SeverityLow})
	require.NoError(t, err)
	b, err := is.Create(ctx, Issue{Symptom: "b", Severity: SeverityCritical})
	require.NoError(t, err)
	c, err := is.Create(ctx, Issue{Symptom: "c", Severity: SeverityHigh})
	require.NoError(t, err)

	updated, err := is.UpdateSafe(ctx, a.ID, IssuePatch{
		Status:      ptr(IssueConfirmed),
		ValidatedBy: ptr("validator-1"),
		Evidence:    &[]Evidence{{Type: "command", Command: "go test ./...", Timestamp: testNow}},
	})
	require.NoError(t, err)
	assert.Equal(t, IssueConfirmed, updated.Status)
	assert.Equal(t, "validator-1", updated.ValidatedBy)
	require.Len(t, updated.Evidence, 1)

	missing, err := is.Update(ctx, "P-ffffffff", IssuePatch{Status: ptr(IssueFalse)})
	require.NoError(t, err)
	assert.Nil(t, missing)

	confirmed, err := is.FilterByStatus(ctx, IssueConfirmed)
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, a.ID, confirmed[0].ID)

	ordered, err := is.BySeverity(ctx)
	require.NoError(t, err)
	require.Len(t, ordered, 3)
	assert.Equal(t, []string{b.ID, c.ID, a.ID}, []string{ordered[0].ID, ordered[1].ID, ordered[2].ID})
}

func TestIssueStore_LinkTask(t *testing.T) {
	ctx := context.Background()
	is := newTestStore(t).IssuesForRun("")
	iss, err := is.Create(ctx, Issue{Symptom: "a"})
	require.NoError(t, err)

	for range 2 {
		iss, err = is.LinkTask(ctx, iss.ID, iss.ID+"-T1")
		require.NoError(t, err)
	}
	assert.Equal(t, []string{iss.ID + "-T1"}, iss.RelatedTaskIDs)

	missing, err := is.LinkTask(ctx, "P-ffffffff", "x")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIssueStore_BatchUpdate(t *testing.T) {
	ctx := context.Background()
	is := newTestStore(t).IssuesForRun("")
	a, err := is.Create(ctx, Issue{Symptom: "a"})
	require.NoError(t, err)

	res, err := is.BatchUpdateSafe(ctx, []IssueUpdate{
		{ID: a.ID, Patch: IssuePatch{Severity: ptr(SeverityHigh)}},
		{ID: "P-00000000", Patch: IssuePatch{Severity: ptr(SeverityHigh)}},
	})
	require.NoError(t, err)
	require.Len(t, res.Updated, 1)
	assert.Equal(t, SeverityHigh, res.Updated[0].Severity)
	assert.Equal(t, []string{"P-00000000"}, res.Missing)
}
