// Package state implements the run-scoped entity stores: issues, tasks,
// executions and the dependency graph mirror. Each entity lives in one
// whole-file JSON array under the run's state directory (or the legacy
// flat directory when no run is active).
//
// Loading is tolerant: every array element is decoded and validated on its
// own, and a bad element is logged and skipped without hiding its siblings.
// Writing is guarded: a read-modify-write refuses to proceed when fewer
// records validated than exist on disk, and a bulk Save refuses to write an
// empty array over a non-empty file.
//
// Plain mutations are serialized within the process by a FIFO queue keyed
// by file path. The *Safe variants additionally hold a cross-process lock
// file for the duration of the read-modify-write.
package state

import (
	"context"
	"time"

	"github.com/Iron-Ham/milhouse/internal/filelock"
	"github.com/Iron-Ham/milhouse/internal/logging"
	"github.com/Iron-Ham/milhouse/internal/paths"
)

// RunResolver reports the active run. An empty id selects the legacy layout.
type RunResolver interface {
	CurrentRunID(ctx context.Context) (string, error)
}

// Options configures a Store.
type Options struct {
	// Logger receives skipped-record warnings and data-loss errors.
	Logger *logging.Logger
	// Locks configures lock acquisition for the *Safe variants.
	Locks filelock.Options
	// Runs resolves the active run for the unscoped accessors. Nil means
	// always use the legacy layout.
	Runs RunResolver
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store hands out entity stores for a workspace.
type Store struct {
	paths  *paths.Resolver
	locks  *filelock.Manager
	logger *logging.Logger
	runs   RunResolver
	now    func() time.Time
}

// New creates a Store for the workspace at workDir.
func New(workDir string, opts Options) *Store {
	logger := logging.OrNop(opts.Logger).WithComponent("state")
	lockOpts := opts.Locks
	if lockOpts.Logger == nil {
		lockOpts.Logger = opts.Logger
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		paths:  paths.New(workDir),
		locks:  filelock.NewManager(lockOpts),
		logger: logger,
		runs:   opts.Runs,
		now:    func() time.Time { return now().UTC() },
	}
}

// Paths returns the workspace path resolver.
func (s *Store) Paths() *paths.Resolver {
	return s.paths
}

// ActiveRunID resolves the run the unscoped accessors operate on.
func (s *Store) ActiveRunID(ctx context.Context) (string, error) {
	if s.runs == nil {
		return "", nil
	}
	return s.runs.CurrentRunID(ctx)
}

// Issues returns the issue store of the active run.
func (s *Store) Issues(ctx context.Context) (*IssueStore, error) {
	runID, err := s.ActiveRunID(ctx)
	if err != nil {
		return nil, err
	}
	return s.IssuesForRun(runID), nil
}

// IssuesForRun returns the issue store of runID ("" for legacy).
func (s *Store) IssuesForRun(runID string) *IssueStore {
	return &IssueStore{
		c:   newCollection(s, paths.KeyIssues, runID, func(i *Issue) string { return i.ID }),
		now: s.now,
	}
}

// Tasks returns the task store of the active run.
func (s *Store) Tasks(ctx context.Context) (*TaskStore, error) {
	runID, err := s.ActiveRunID(ctx)
	if err != nil {
		return nil, err
	}
	return s.TasksForRun(runID), nil
}

// TasksForRun returns the task store of runID ("" for legacy).
func (s *Store) TasksForRun(runID string) *TaskStore {
	return &TaskStore{
		c:     newCollection(s, paths.KeyTasks, runID, func(t *Task) string { return t.ID }),
		graph: s.GraphForRun(runID),
		now:   s.now,
	}
}

// Executions returns the execution store of the active run.
func (s *Store) Executions(ctx context.Context) (*ExecutionStore, error) {
	runID, err := s.ActiveRunID(ctx)
	if err != nil {
		return nil, err
	}
	return s.ExecutionsForRun(runID), nil
}

// ExecutionsForRun returns the execution store of runID ("" for legacy).
func (s *Store) ExecutionsForRun(runID string) *ExecutionStore {
	return &ExecutionStore{
		c:   newCollection(s, paths.KeyExecutions, runID, func(e *Execution) string { return e.ID }),
		now: s.now,
	}
}

// Graph returns the graph store of the active run.
func (s *Store) Graph(ctx context.Context) (*GraphStore, error) {
	runID, err := s.ActiveRunID(ctx)
	if err != nil {
		return nil, err
	}
	return s.GraphForRun(runID), nil
}
