package state

import (
	"context"
	"slices"
	"time"
)

// ExecutionStore reads and writes executions.json for one run.
type ExecutionStore struct {
	c   *Collection[Execution]
	now func() time.Time
}

// ExecutionPatch is a partial update. Nil fields are left unchanged.
type ExecutionPatch struct {
	CompletedAt     *time.Time
	Success         *bool
	InputTokens     *int
	OutputTokens    *int
	AgentRole       *string
	CommitSHA       *string
	Branch          *string
	PRURL           *string
	FollowUpTaskIDs *[]string
	Error           *string
}

// ExecutionUpdate pairs an execution id with a patch for BatchUpdate.
type ExecutionUpdate struct {
	ID    string
	Patch ExecutionPatch
}

// CompleteOptions describes how an execution finished.
type CompleteOptions struct {
	Success         bool
	Error           string
	CommitSHA       string
	Branch          string
	PRURL           string
	InputTokens     int
	OutputTokens    int
	FollowUpTaskIDs []string
}

// TokenTotals sums token usage across executions.
type TokenTotals struct {
	Input  int `json:"input" yaml:"input"`
	Output int `json:"output" yaml:"output"`
	Total  int `json:"total" yaml:"total"`
}

// Path returns the executions.json path.
func (s *ExecutionStore) Path() string { return s.c.Path() }

// Load returns all valid executions.
func (s *ExecutionStore) Load(ctx context.Context) ([]Execution, error) {
	return s.c.Load(ctx)
}

// LoadDetailed returns valid executions plus the rejected records.
func (s *ExecutionStore) LoadDetailed(ctx context.Context) (DecodeResult[Execution], error) {
	return s.c.LoadDetailed(ctx)
}

// Save replaces all executions.
func (s *ExecutionStore) Save(ctx context.Context, execs []Execution) error {
	return s.c.Save(ctx, execs)
}

// Create records the start of an execution. ID is generated; StartedAt
// defaults to now.
func (s *ExecutionStore) Create(ctx context.Context, in Execution) (*Execution, error) {
	return s.c.insert(ctx, func(items []Execution) (Execution, error) {
		now := s.now()
		e := in
		e.ID = newExecutionID(now)
		for s.c.find(items, e.ID) >= 0 {
			e.ID = newExecutionID(now)
		}
		if e.StartedAt.IsZero() {
			e.StartedAt = now
		}
		e.FollowUpTaskIDs = nonNil(e.FollowUpTaskIDs)
		return e, nil
	})
}

// Read returns the execution with id, or nil.
func (s *ExecutionStore) Read(ctx context.Context, id string) (*Execution, error) {
	return s.c.Read(ctx, id)
}

// Update applies patch to the execution with id, or returns nil when it
// does not exist.
func (s *ExecutionStore) Update(ctx context.Context, id string, patch ExecutionPatch) (*Execution, error) {
	return s.c.update(ctx, false, id, applyExecutionPatch(patch))
}

// UpdateSafe is Update under the cross-process lock on executions.json.
func (s *ExecutionStore) UpdateSafe(ctx context.Context, id string, patch ExecutionPatch) (*Execution, error) {
	return s.c.update(ctx, true, id, applyExecutionPatch(patch))
}

// BatchUpdate applies all updates in one load-mutate-save cycle.
func (s *ExecutionStore) BatchUpdate(ctx context.Context, updates []ExecutionUpdate) (BatchResult[Execution], error) {
	return s.c.batch(ctx, false, executionUpdates(updates))
}

// BatchUpdateSafe is BatchUpdate under the cross-process lock.
func (s *ExecutionStore) BatchUpdateSafe(ctx context.Context, updates []ExecutionUpdate) (BatchResult[Execution], error) {
	return s.c.batch(ctx, true, executionUpdates(updates))
}

func executionUpdates(updates []ExecutionUpdate) []pendingUpdate[Execution] {
	out := make([]pendingUpdate[Execution], len(updates))
	for i, u := range updates {
		out[i] = pendingUpdate[Execution]{id: u.ID, apply: applyExecutionPatch(u.Patch)}
	}
	return out
}

func applyExecutionPatch(p ExecutionPatch) func(items []Execution, i int) error {
	return func(items []Execution, i int) error {
		e := &items[i]
		if p.CompletedAt != nil {
			t := *p.CompletedAt
			e.CompletedAt = &t
		}
		if p.Success != nil {
			ok := *p.Success
			e.Success = &ok
		}
		if p.InputTokens != nil {
			e.InputTokens = *p.InputTokens
		}
		if p.OutputTokens != nil {
			e.OutputTokens = *p.OutputTokens
		}
		if p.AgentRole != nil {
			e.AgentRole = *p.AgentRole
		}
		if p.CommitSHA != nil {
			e.CommitSHA = *p.CommitSHA
		}
		if p.Branch != nil {
			e.Branch = *p.Branch
		}
		if p.PRURL != nil {
			e.PRURL = *p.PRURL
		}
		if p.FollowUpTaskIDs != nil {
			e.FollowUpTaskIDs = nonNil(slices.Clone(*p.FollowUpTaskIDs))
		}
		if p.Error != nil {
			e.Error = *p.Error
		}
		return nil
	}
}

// Complete marks the execution finished now. Token counts are added to any
// already recorded. Returns nil when the execution does not exist.
func (s *ExecutionStore) Complete(ctx context.Context, id string, opts CompleteOptions) (*Execution, error) {
	return s.c.update(ctx, true, id, func(items []Execution, i int) error {
		e := &items[i]
		now := s.now()
		ok := opts.Success
		e.CompletedAt = &now
		e.Success = &ok
		e.Error = opts.Error
		if opts.CommitSHA != "" {
			e.CommitSHA = opts.CommitSHA
		}
		if opts.Branch != "" {
			e.Branch = opts.Branch
		}
		if opts.PRURL != "" {
			e.PRURL = opts.PRURL
		}
		e.InputTokens += opts.InputTokens
		e.OutputTokens += opts.OutputTokens
		for _, id := range opts.FollowUpTaskIDs {
			if !slices.Contains(e.FollowUpTaskIDs, id) {
				e.FollowUpTaskIDs = append(e.FollowUpTaskIDs, id)
			}
		}
		return nil
	})
}

// Delete removes the execution with id and reports whether it existed.
func (s *ExecutionStore) Delete(ctx context.Context, id string) (bool, error) {
	return s.c.Delete(ctx, id)
}

// FilterByStatus returns executions whose derived status is any of statuses.
func (s *ExecutionStore) FilterByStatus(ctx context.Context, statuses ...ExecutionStatus) ([]Execution, error) {
	return s.c.Filter(ctx, func(e *Execution) bool { return slices.Contains(statuses, e.Status()) })
}

// Pending returns executions that have not completed.
func (s *ExecutionStore) Pending(ctx context.Context) ([]Execution, error) {
	return s.FilterByStatus(ctx, ExecutionPending)
}

// ByTask returns the executions of taskID in file order.
func (s *ExecutionStore) ByTask(ctx context.Context, taskID string) ([]Execution, error) {
	return s.c.Filter(ctx, func(e *Execution) bool { return e.TaskID == taskID })
}

// TokenTotals sums input and output tokens over all executions.
func (s *ExecutionStore) TokenTotals(ctx context.Context) (TokenTotals, error) {
	execs, err := s.Load(ctx)
	if err != nil {
		return TokenTotals{}, err
	}
	var t TokenTotals
	for _, e := range execs {
		t.Input += e.InputTokens
		t.Output += e.OutputTokens
	}
	t.Total = t.Input + t.Output
	return t, nil
}
