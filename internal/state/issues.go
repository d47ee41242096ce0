package state

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Iron-Ham/milhouse/internal/errors"
)

// IssueStore reads and writes issues.json for one run.
type IssueStore struct {
	c   *Collection[Issue]
	now func() time.Time
}

// IssuePatch is a partial update. Nil fields are left unchanged.
type IssuePatch struct {
	Symptom        *string
	Hypothesis     *string
	Evidence       *[]Evidence
	Status         *IssueStatus
	Severity       *Severity
	Strategy       *string
	RelatedTaskIDs *[]string
	ValidatedBy    *string
}

// IssueUpdate pairs an issue id with a patch for BatchUpdate.
type IssueUpdate struct {
	ID    string
	Patch IssuePatch
}

// Path returns the issues.json path.
func (s *IssueStore) Path() string { return s.c.Path() }

// Load returns all valid issues.
func (s *IssueStore) Load(ctx context.Context) ([]Issue, error) {
	return s.c.Load(ctx)
}

// LoadDetailed returns valid issues plus the rejected records.
func (s *IssueStore) LoadDetailed(ctx context.Context) (DecodeResult[Issue], error) {
	return s.c.LoadDetailed(ctx)
}

// Save replaces all issues.
func (s *IssueStore) Save(ctx context.Context, issues []Issue) error {
	return s.c.Save(ctx, issues)
}

// Create adds an issue. A blank ID is replaced by a generated "P-xxxxxxxx"
// id and an explicit ID must be unused. Status defaults to UNVALIDATED and Severity to MEDIUM.
func (s *IssueStore) Create(ctx context.Context, in Issue) (*Issue, error) {
	return s.c.insert(ctx, func(items []Issue) (Issue, error) {
		now := s.now()
		iss := in
		switch {
		case iss.ID == "":
			iss.ID = newIssueID(func(id string) bool { return s.c.find(items, id) >= 0 })
		case s.c.find(items, iss.ID) >= 0:
			return Issue{}, fmt.Errorf("issue %s already exists: %w", iss.ID, errors.ErrInvalidInput)
		}
		if iss.Status == "" {
			iss.Status = IssueUnvalidated
		}
		if iss.Severity == "" {
			iss.Severity = SeverityMedium
		}
		if iss.Evidence == nil {
			iss.Evidence = []Evidence{}
		}
		iss.RelatedTaskIDs = nonNil(iss.RelatedTaskIDs)
		iss.CreatedAt = now
		iss.UpdatedAt = now
		return iss, nil
	})
}

// Read returns the issue with id, or nil.
func (s *IssueStore) Read(ctx context.Context, id string) (*Issue, error) {
	return s.c.Read(ctx, id)
}

// Update applies patch to the issue with id and returns the result, or nil
// when no such issue exists.
func (s *IssueStore) Update(ctx context.Context, id string, patch IssuePatch) (*Issue, error) {
	return s.c.update(ctx, false, id, s.applier(patch))
}

// UpdateSafe is Update under the cross-process lock on issues.json.
func (s *IssueStore) UpdateSafe(ctx context.Context, id string, patch IssuePatch) (*Issue, error) {
	return s.c.update(ctx, true, id, s.applier(patch))
}

// BatchUpdate applies all updates in one load-mutate-save cycle.
func (s *IssueStore) BatchUpdate(ctx context.Context, updates []IssueUpdate) (BatchResult[Issue], error) {
	return s.c.batch(ctx, false, s.pending(updates))
}

// BatchUpdateSafe is BatchUpdate under the cross-process lock.
func (s *IssueStore) BatchUpdateSafe(ctx context.Context, updates []IssueUpdate) (BatchResult[Issue], error) {
	return s.c.batch(ctx, true, s.pending(updates))
}

func (s *IssueStore) pending(updates []IssueUpdate) []pendingUpdate[Issue] {
	out := make([]pendingUpdate[Issue], len(updates))
	for i, u := range updates {
		out[i] = pendingUpdate[Issue]{id: u.ID, apply: s.applier(u.Patch)}
	}
	return out
}

func (s *IssueStore) applier(p IssuePatch) func(items []Issue, i int) error {
	return func(items []Issue, i int) error {
		iss := &items[i]
		if p.Symptom != nil {
			iss.Symptom = *p.Symptom
		}
		if p.Hypothesis != nil {
			iss.Hypothesis = *p.Hypothesis
		}
		if p.Evidence != nil {
			iss.Evidence = slices.Clone(*p.Evidence)
		}
		if p.Status != nil {
			iss.Status = *p.Status
		}
		if p.Severity != nil {
			iss.Severity = *p.Severity
		}
		if p.Strategy != nil {
			iss.Strategy = *p.Strategy
		}
		if p.RelatedTaskIDs != nil {
			iss.RelatedTaskIDs = nonNil(slices.Clone(*p.RelatedTaskIDs))
		}
		if p.ValidatedBy != nil {
			iss.ValidatedBy = *p.ValidatedBy
		}
		iss.UpdatedAt = s.now()
		return nil
	}
}

// Delete removes the issue with id and reports whether it existed.
func (s *IssueStore) Delete(ctx context.Context, id string) (bool, error) {
	return s.c.Delete(ctx, id)
}

// FilterByStatus returns issues in any of the given statuses.
func (s *IssueStore) FilterByStatus(ctx context.Context, statuses ...IssueStatus) ([]Issue, error) {
	return s.c.Filter(ctx, func(i *Issue) bool { return slices.Contains(statuses, i.Status) })
}

// BySeverity returns issues ordered from most to least severe. Issues of
// equal severity keep file order.
func (s *IssueStore) BySeverity(ctx context.Context) ([]Issue, error) {
	issues, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(issues, func(a, b Issue) int {
		return a.Severity.Rank() - b.Severity.Rank()
	})
	return issues, nil
}

// LinkTask records taskID on the issue. Linking twice is a no-op. Returns
// nil when the issue does not exist.
func (s *IssueStore) LinkTask(ctx context.Context, issueID, taskID string) (*Issue, error) {
	return s.c.update(ctx, false, issueID, func(items []Issue, i int) error {
		iss := &items[i]
		if !slices.Contains(iss.RelatedTaskIDs, taskID) {
			iss.RelatedTaskIDs = append(iss.RelatedTaskIDs, taskID)
			iss.UpdatedAt = s.now()
		}
		return nil
	})
}
