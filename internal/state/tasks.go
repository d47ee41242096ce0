package state

import (
	"context"
	"slices"
	"time"

	"github.com/Iron-Ham/milhouse/internal/graph"
)

// TaskStore reads and writes tasks.json for one run.
type TaskStore struct {
	c     *Collection[Task]
	graph *GraphStore
	now   func() time.Time
}

// TaskPatch is a partial update. Nil fields are left unchanged.
type TaskPatch struct {
	Title         *string
	Description   *string
	Files         *[]string
	DependsOn     *[]string
	Checks        *[]string
	Acceptance    *[]AcceptanceCriterion
	ParallelGroup *int
	Status        *TaskStatus
	Error         *string
	Branch        *string
	Worktree      *string
}

// TaskUpdate pairs a task id with a patch for BatchUpdate.
type TaskUpdate struct {
	ID    string
	Patch TaskPatch
}

// Path returns the tasks.json path.
func (s *TaskStore) Path() string { return s.c.Path() }

// Load returns all valid tasks.
func (s *TaskStore) Load(ctx context.Context) ([]Task, error) {
	return s.c.Load(ctx)
}

// LoadDetailed returns valid tasks plus the rejected records.
func (s *TaskStore) LoadDetailed(ctx context.Context) (DecodeResult[Task], error) {
	return s.c.LoadDetailed(ctx)
}

// Save replaces all tasks.
func (s *TaskStore) Save(ctx context.Context, tasks []Task) error {
	return s.c.Save(ctx, tasks)
}

// Create adds a task built from in. ID, timestamps and completion fields
// are assigned by the store; Status defaults to pending. Dependencies on ids
// that do not exist yet are kept and reported by graph validation, but a
// dependency that closes a cycle once the new id exists (including the task
// itself) is rejected with ErrDependencyCycle.
func (s *TaskStore) Create(ctx context.Context, in Task) (*Task, error) {
	return s.c.insert(ctx, func(items []Task) (Task, error) {
		ids := make([]string, len(items))
		for i := range items {
			ids[i] = items[i].ID
		}

		now := s.now()
		t := in
		t.ID = nextTaskID(taskPrefix(in.IssueID), ids)
		t.CreatedAt = now
		t.UpdatedAt = now
		t.CompletedAt = nil
		if t.Status == "" {
			t.Status = TaskPending
		}
		if t.Status == TaskDone {
			t.CompletedAt = &now
		}
		t.Files = nonNil(t.Files)
		t.DependsOn = nonNil(t.DependsOn)
		t.Checks = nonNil(t.Checks)
		if t.Acceptance == nil {
			t.Acceptance = []AcceptanceCriterion{}
		}
		if err := checkDependencies(append(slices.Clip(items), t), t.ID, t.DependsOn); err != nil {
			return Task{}, err
		}
		return t, nil
	})
}

// Read returns the task with id, or nil.
func (s *TaskStore) Read(ctx context.Context, id string) (*Task, error) {
	return s.c.Read(ctx, id)
}

// Update applies patch to the task with id and returns the updated task, or
// nil when no such task exists.
func (s *TaskStore) Update(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	return s.c.update(ctx, false, id, s.applier(patch))
}

// UpdateSafe is Update under the cross-process lock on tasks.json.
func (s *TaskStore) UpdateSafe(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	return s.c.update(ctx, true, id, s.applier(patch))
}

// BatchUpdate applies all updates in one load-mutate-save cycle. Unknown ids
// are reported in the result.
func (s *TaskStore) BatchUpdate(ctx context.Context, updates []TaskUpdate) (BatchResult[Task], error) {
	return s.c.batch(ctx, false, s.pending(updates))
}

// BatchUpdateSafe is BatchUpdate under the cross-process lock on tasks.json.
func (s *TaskStore) BatchUpdateSafe(ctx context.Context, updates []TaskUpdate) (BatchResult[Task], error) {
	return s.c.batch(ctx, true, s.pending(updates))
}

func (s *TaskStore) pending(updates []TaskUpdate) []pendingUpdate[Task] {
	out := make([]pendingUpdate[Task], len(updates))
	for i, u := range updates {
		out[i] = pendingUpdate[Task]{id: u.ID, apply: s.applier(u.Patch)}
	}
	return out
}

// applier returns the mutation for patch, including its side effects:
// a task entering done gets completed_at, and a task entering failed moves
// its pending direct dependents to blocked.
func (s *TaskStore) applier(patch TaskPatch) func(items []Task, i int) error {
	return func(items []Task, i int) error {
		now := s.now()
		t := &items[i]
		prev := t.Status

		if patch.DependsOn != nil {
			if err := checkDependencies(items, t.ID, *patch.DependsOn); err != nil {
				return err
			}
			t.DependsOn = nonNil(slices.Clone(*patch.DependsOn))
		}
		if patch.Title != nil {
			t.Title = *patch.Title
		}
		if patch.Description != nil {
			t.Description = *patch.Description
		}
		if patch.Files != nil {
			t.Files = nonNil(slices.Clone(*patch.Files))
		}
		if patch.Checks != nil {
			t.Checks = nonNil(slices.Clone(*patch.Checks))
		}
		if patch.Acceptance != nil {
			t.Acceptance = slices.Clone(*patch.Acceptance)
		}
		if patch.ParallelGroup != nil {
			t.ParallelGroup = *patch.ParallelGroup
		}
		if patch.Error != nil {
			t.Error = *patch.Error
		}
		if patch.Branch != nil {
			t.Branch = *patch.Branch
		}
		if patch.Worktree != nil {
			t.Worktree = *patch.Worktree
		}
		if patch.Status != nil {
			t.Status = *patch.Status
		}
		t.UpdatedAt = now

		if t.Status != prev {
			switch t.Status {
			case TaskDone:
				t.CompletedAt = &now
			case TaskFailed:
				blockDependents(items, t.ID, now)
			}
		}
		return nil
	}
}

// blockDependents moves pending tasks that directly depend on id to blocked.
func blockDependents(items []Task, id string, now time.Time) {
	for j := range items {
		d := &items[j]
		if d.Status == TaskPending && slices.Contains(d.DependsOn, id) {
			d.Status = TaskBlocked
			d.UpdatedAt = now
		}
	}
}

// checkDependencies verifies that replacing id's dependencies with deps
// keeps the graph acyclic. Unknown ids cannot close a cycle and are allowed.
func checkDependencies(items []Task, id string, deps []string) error {
	nodes := make([]graph.Node, len(items))
	for i := range items {
		nodes[i] = graph.Node{ID: items[i].ID, DependsOn: items[i].DependsOn}
		if items[i].ID == id {
			nodes[i].DependsOn = nil
		}
	}
	g := graph.New(nodes)
	for _, dep := range deps {
		if !g.Has(dep) {
			continue
		}
		if err := g.AddDependency(id, dep); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the task with id and reports whether it existed.
func (s *TaskStore) Delete(ctx context.Context, id string) (bool, error) {
	return s.c.Delete(ctx, id)
}

// FilterByStatus returns tasks in any of the given statuses.
func (s *TaskStore) FilterByStatus(ctx context.Context, statuses ...TaskStatus) ([]Task, error) {
	return s.c.Filter(ctx, func(t *Task) bool { return slices.Contains(statuses, t.Status) })
}

// ByIssue returns the tasks created for issueID.
func (s *TaskStore) ByIssue(ctx context.Context, issueID string) ([]Task, error) {
	return s.c.Filter(ctx, func(t *Task) bool { return t.IssueID == issueID })
}

// ByParallelGroup returns the tasks in group.
func (s *TaskStore) ByParallelGroup(ctx context.Context, group int) ([]Task, error) {
	return s.c.Filter(ctx, func(t *Task) bool { return t.ParallelGroup == group })
}

// CountByStatus tallies tasks per status.
func (s *TaskStore) CountByStatus(ctx context.Context) (map[TaskStatus]int, error) {
	tasks, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[TaskStatus]int)
	for _, t := range tasks {
		counts[t.Status]++
	}
	return counts, nil
}

// Ready returns pending tasks whose dependencies are all done, in file order.
func (s *TaskStore) Ready(ctx context.Context) ([]Task, error) {
	tasks, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	status := make(map[string]TaskStatus, len(tasks))
	for _, t := range tasks {
		status[t.ID] = t.Status
	}

	ready := []Task{}
	for _, t := range tasks {
		if t.Status != TaskPending {
			continue
		}
		ok := true
		for _, dep := range t.DependsOn {
			if status[dep] != TaskDone {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	return ready, nil
}

// AddDependency records that task from depends on task to. Unknown ids and
// edges that would close a cycle are rejected.
func (s *TaskStore) AddDependency(ctx context.Context, from, to string) (*Task, error) {
	var updated *Task
	err := s.c.mutate(ctx, true, func(items []Task) ([]Task, bool, error) {
		g := FromTasks(items)
		i := s.c.find(items, from)
		if i >= 0 && slices.Contains(items[i].DependsOn, to) {
			t := items[i]
			updated = &t
			return items, false, nil
		}
		if err := g.AddDependency(from, to); err != nil {
			return nil, false, err
		}
		items[i].DependsOn = append(items[i].DependsOn, to)
		items[i].UpdatedAt = s.now()
		t := items[i]
		updated = &t
		return items, true, nil
	})
	return updated, err
}

// BuildGraph builds the dependency graph of the current tasks.
func (s *TaskStore) BuildGraph(ctx context.Context) (*graph.Graph, error) {
	tasks, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return FromTasks(tasks), nil
}

// AssignParallelGroups computes each task's parallel group from its
// dependency depth and persists the result. converged is false when the
// dependencies contain a cycle; groups are still written in that case.
func (s *TaskStore) AssignParallelGroups(ctx context.Context) (groups map[string]int, converged bool, err error) {
	err = s.c.mutate(ctx, true, func(items []Task) ([]Task, bool, error) {
		g := FromTasks(items)
		groups, converged = g.AssignParallelGroups()
		changed := false
		now := s.now()
		for i := range items {
			if grp := groups[items[i].ID]; items[i].ParallelGroup != grp {
				items[i].ParallelGroup = grp
				items[i].UpdatedAt = now
				changed = true
			}
		}
		return items, changed, nil
	})
	return groups, converged, err
}

// SyncGraph rewrites graph.json from the current tasks.
func (s *TaskStore) SyncGraph(ctx context.Context) ([]graph.Node, error) {
	g, err := s.BuildGraph(ctx)
	if err != nil {
		return nil, err
	}
	nodes := g.Nodes()
	if err := s.graph.Replace(ctx, nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// FromTasks projects tasks onto graph nodes.
func FromTasks(tasks []Task) *graph.Graph {
	nodes := make([]graph.Node, len(tasks))
	for i, t := range tasks {
		nodes[i] = graph.Node{ID: t.ID, DependsOn: t.DependsOn, ParallelGroup: t.ParallelGroup}
	}
	return graph.New(nodes)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
