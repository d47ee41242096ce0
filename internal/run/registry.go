// Package run manages runs: isolated namespaces that each own a state
// directory, a meta.json and an entry in the workspace's runs_index.json.
//
// The index is shared by every process working in the workspace, so each
// index and meta read-modify-write holds the file's in-process queue lock
// and its cross-process advisory lock.
package run

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/milhouse/internal/errors"
	"github.com/Iron-Ham/milhouse/internal/filelock"
	"github.com/Iron-Ham/milhouse/internal/fsutil"
	"github.com/Iron-Ham/milhouse/internal/logging"
	"github.com/Iron-Ham/milhouse/internal/paths"
)

var metaValidate = validator.New(validator.WithRequiredStructEnabled())

// Options configures a Registry.
type Options struct {
	Logger *logging.Logger
	Locks  filelock.Options
	// StrictPhases only allows a run to stay in its phase or advance to the
	// next one.
	StrictPhases bool
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// CreateOptions names a new run. Name wins over Scope as the id hint.
type CreateOptions struct {
	Name  string
	Scope string
}

// Registry creates, lists, selects and deletes runs.
type Registry struct {
	paths  *paths.Resolver
	locks  *filelock.Manager
	logger *logging.Logger
	strict bool
	now    func() time.Time
}

// New creates a Registry for the workspace at workDir.
func New(workDir string, opts Options) *Registry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	lockOpts := opts.Locks
	if lockOpts.Logger == nil {
		lockOpts.Logger = opts.Logger
	}
	return &Registry{
		paths:  paths.New(workDir),
		locks:  filelock.NewManager(lockOpts),
		logger: logging.OrNop(opts.Logger).WithComponent("run"),
		strict: opts.StrictPhases,
		now:    func() time.Time { return now().UTC() },
	}
}

// Paths returns the workspace path resolver.
func (r *Registry) Paths() *paths.Resolver {
	return r.paths
}

// CreateRun lays out a new run directory with empty collections, writes its
// meta, appends it to the index and makes it the current run.
func (r *Registry) CreateRun(ctx context.Context, opts CreateOptions) (*Meta, error) {
	now := r.now()
	hint := opts.Name
	if hint == "" {
		hint = opts.Scope
	}
	id := NewID(now, hint)
	for fsutil.Exists(r.paths.RunDir(id)) {
		id = NewID(now, hint)
	}

	for _, dir := range []string{r.paths.StateDir(id), r.paths.PlansDir(id), r.paths.ProbesDir(id)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "create run directory %s", dir)
		}
	}
	for _, key := range paths.CollectionKeys {
		path, _ := r.paths.StateFile(key, id)
		if err := fsutil.WriteJSON(path, []struct{}{}); err != nil {
			return nil, errors.NewWriteError(path, err)
		}
	}

	meta := &Meta{
		ID:        id,
		Name:      opts.Name,
		Scope:     opts.Scope,
		CreatedAt: now,
		UpdatedAt: now,
		Phase:     PhaseScan,
	}
	if err := r.writeMeta(meta); err != nil {
		return nil, err
	}

	err := r.mutateIndex(ctx, func(idx *Index) error {
		idx.Runs = append(idx.Runs, summaryOf(meta))
		idx.setCurrent(id)
		return nil
	})
	if err != nil {
		_ = os.RemoveAll(r.paths.RunDir(id))
		return nil, err
	}

	r.logger.WithRun(id).Info("run created", "name", opts.Name, "scope", opts.Scope)
	return meta, nil
}

func summaryOf(m *Meta) Summary {
	return Summary{ID: m.ID, Name: m.Name, Scope: m.Scope, CreatedAt: m.CreatedAt, Phase: m.Phase}
}

// DeleteRun removes a run from the index and deletes its directory. When it
// was the current run, the most recently created remaining run becomes
// current. Reports false when the run is not in the index.
func (r *Registry) DeleteRun(ctx context.Context, id string) (bool, error) {
	if paths.ValidateRunID(id) != nil {
		return false, nil
	}
	found := false
	err := r.mutateIndex(ctx, func(idx *Index) error {
		i := idx.find(id)
		if i < 0 {
			return nil
		}
		found = true
		wasCurrent := idx.current() == id
		idx.Runs = slices.Delete(idx.Runs, i, i+1)
		if wasCurrent {
			idx.setCurrent(newest(idx.Runs))
		}
		return nil
	})
	if err != nil || !found {
		return false, err
	}

	if err := os.RemoveAll(r.paths.RunDir(id)); err != nil {
		return true, errors.Wrapf(err, "remove run directory %s", id)
	}
	r.logger.WithRun(id).Info("run deleted")
	return true, nil
}

// newest returns the id of the most recently created run, or "".
func newest(runs []Summary) string {
	best := -1
	for i, s := range runs {
		if best < 0 || s.CreatedAt.After(runs[best].CreatedAt) {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return runs[best].ID
}

// GetRun returns the meta of run id, or nil when it does not exist.
func (r *Registry) GetRun(ctx context.Context, id string) (*Meta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if paths.ValidateRunID(id) != nil {
		return nil, nil
	}
	return r.readMeta(id)
}

// ListRuns returns the index entries, newest first.
func (r *Registry) ListRuns(ctx context.Context) ([]Summary, error) {
	idx, err := r.readIndex(ctx)
	if err != nil {
		return nil, err
	}
	runs := slices.Clone(idx.Runs)
	slices.Reverse(runs)
	slices.SortStableFunc(runs, func(a, b Summary) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return runs, nil
}

// ListMetas loads the meta of every indexed run concurrently, newest first.
// Runs whose meta is missing or unreadable are skipped.
func (r *Registry) ListMetas(ctx context.Context) ([]Meta, error) {
	runs, err := r.ListRuns(ctx)
	if err != nil {
		return nil, err
	}

	metas := make([]*Meta, len(runs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, s := range runs {
		g.Go(func() error {
			m, err := r.GetRun(gctx, s.ID)
			if errors.Is(err, errors.ErrParse) {
				r.logger.WithRun(s.ID).Warn("skipping unreadable run meta", "error", err)
				return nil
			}
			if err != nil {
				return err
			}
			metas[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Meta, 0, len(metas))
	for _, m := range metas {
		if m != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

// CurrentRunID returns the current run id, or "" when none is selected.
func (r *Registry) CurrentRunID(ctx context.Context) (string, error) {
	idx, err := r.readIndex(ctx)
	if err != nil {
		return "", err
	}
	return idx.current(), nil
}

// CurrentRun returns the current run's meta, or nil.
func (r *Registry) CurrentRun(ctx context.Context) (*Meta, error) {
	id, err := r.CurrentRunID(ctx)
	if err != nil || id == "" {
		return nil, err
	}
	return r.GetRun(ctx, id)
}

// SetCurrentRun selects run id. An empty id clears the selection so the
// legacy layout is used.
func (r *Registry) SetCurrentRun(ctx context.Context, id string) error {
	return r.mutateIndex(ctx, func(idx *Index) error {
		if id != "" && idx.find(id) < 0 {
			return errors.NewNotFoundError("run", id).WithCause(errors.ErrRunNotFound)
		}
		idx.setCurrent(id)
		return nil
	})
}

// RunExists reports whether id is in the index.
func (r *Registry) RunExists(ctx context.Context, id string) (bool, error) {
	idx, err := r.readIndex(ctx)
	if err != nil {
		return false, err
	}
	return idx.find(id) >= 0, nil
}

// UpdatePhase sets the run's phase and mirrors it into the index. With
// strict phases, anything other than staying put or advancing one step
// fails with ErrInvalidPhaseTransition. Returns nil for an unknown run.
func (r *Registry) UpdatePhase(ctx context.Context, id string, phase Phase) (*Meta, error) {
	if !phase.Valid() {
		return nil, fmt.Errorf("unknown phase %q: %w", phase, errors.ErrInvalidInput)
	}
	meta, err := r.updateMeta(ctx, id, func(m *Meta) error {
		if r.strict && !m.Phase.CanAdvance(phase) {
			return fmt.Errorf("%s -> %s: %w", m.Phase, phase, errors.ErrInvalidPhaseTransition)
		}
		m.Phase = phase
		return nil
	})
	if err != nil || meta == nil {
		return meta, err
	}

	err = r.mutateIndex(ctx, func(idx *Index) error {
		if i := idx.find(id); i >= 0 {
			idx.Runs[i].Phase = phase
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.WithRun(id).Info("run phase updated", "phase", phase)
	return meta, nil
}

// UpdateStats overwrites the counters set in patch.
func (r *Registry) UpdateStats(ctx context.Context, id string, patch StatsPatch) (*Meta, error) {
	return r.updateMeta(ctx, id, func(m *Meta) error {
		set := func(dst *int, v *int) {
			if v != nil {
				*dst = max(*v, 0)
			}
		}
		set(&m.IssuesFound, patch.IssuesFound)
		set(&m.IssuesValidated, patch.IssuesValidated)
		set(&m.TasksTotal, patch.TasksTotal)
		set(&m.TasksCompleted, patch.TasksCompleted)
		set(&m.TasksFailed, patch.TasksFailed)
		return nil
	})
}

// IncrementStats adds delta to the counters.
func (r *Registry) IncrementStats(ctx context.Context, id string, delta StatsDelta) (*Meta, error) {
	return r.updateMeta(ctx, id, func(m *Meta) error {
		m.IssuesFound = max(m.IssuesFound+delta.IssuesFound, 0)
		m.IssuesValidated = max(m.IssuesValidated+delta.IssuesValidated, 0)
		m.TasksTotal = max(m.TasksTotal+delta.TasksTotal, 0)
		m.TasksCompleted = max(m.TasksCompleted+delta.TasksCompleted, 0)
		m.TasksFailed = max(m.TasksFailed+delta.TasksFailed, 0)
		return nil
	})
}

// updateMeta runs fn over the run's meta under its locks and refreshes
// updated_at. Returns nil when the run does not exist.
func (r *Registry) updateMeta(ctx context.Context, id string, fn func(*Meta) error) (*Meta, error) {
	if paths.ValidateRunID(id) != nil || !fsutil.Exists(r.paths.MetaPath(id)) {
		return nil, nil
	}
	var meta *Meta
	err := r.locks.Exclusive(ctx, r.paths.MetaPath(id), func() error {
		m, err := r.readMeta(id)
		if err != nil || m == nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
		m.UpdatedAt = r.now()
		if err := r.writeMeta(m); err != nil {
			return err
		}
		meta = m
		return nil
	})
	return meta, err
}

func (r *Registry) readMeta(id string) (*Meta, error) {
	path := r.paths.MetaPath(id)
	var m Meta
	found, err := fsutil.ReadJSON(path, &m)
	if err != nil {
		return nil, errors.NewParseError(path, err)
	}
	if !found {
		return nil, nil
	}
	if err := metaValidate.Struct(&m); err != nil {
		return nil, errors.NewParseError(path, err)
	}
	return &m, nil
}

func (r *Registry) writeMeta(m *Meta) error {
	path := r.paths.MetaPath(m.ID)
	if err := fsutil.WriteJSON(path, m); err != nil {
		return errors.NewWriteError(path, err)
	}
	return nil
}

// readIndex loads the index for reading. A corrupt index reads as empty
// with a warning; a dangling current_run reads as unset.
func (r *Registry) readIndex(ctx context.Context) (*Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, err := r.loadIndex()
	if err != nil {
		r.logger.Warn("runs index unreadable, treating as empty", "path", r.paths.RunsIndexPath(), "error", err)
		return &Index{Runs: []Summary{}}, nil
	}
	return idx, nil
}

func (r *Registry) loadIndex() (*Index, error) {
	path := r.paths.RunsIndexPath()
	idx := &Index{}
	if _, err := fsutil.ReadJSON(path, idx); err != nil {
		return nil, errors.NewParseError(path, err)
	}
	if idx.Runs == nil {
		idx.Runs = []Summary{}
	}
	return idx, nil
}

// mutateIndex runs fn over the index under its locks and writes the result.
// A corrupt index is never overwritten.
func (r *Registry) mutateIndex(ctx context.Context, fn func(*Index) error) error {
	path := r.paths.RunsIndexPath()
	return r.locks.Exclusive(ctx, path, func() error {
		idx, err := r.loadIndex()
		if err != nil {
			return err
		}
		if err := fn(idx); err != nil {
			return err
		}
		if idx.current() == "" {
			idx.CurrentRun = nil
		}
		if err := fsutil.WriteJSON(path, idx); err != nil {
			return errors.NewWriteError(path, err)
		}
		return nil
	})
}
