package state

import (
	"context"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/milhouse/internal/errors"
	"github.com/Iron-Ham/milhouse/internal/filelock"
	"github.com/Iron-Ham/milhouse/internal/fsutil"
	"github.com/Iron-Ham/milhouse/internal/logging"
	"github.com/Iron-Ham/milhouse/internal/paths"
)

// Collection is one whole-file JSON array of records. Every write replaces
// the entire file through a temp file and rename.
type Collection[T any] struct {
	key    paths.FileKey
	path   string
	runID  string
	runDir string // empty for the legacy layout
	idOf   func(*T) string
	locks  *filelock.Manager
	logger *logging.Logger
}

func newCollection[T any](s *Store, key paths.FileKey, runID string, idOf func(*T) string) *Collection[T] {
	path, err := s.paths.StateFile(key, runID)
	if err != nil {
		// Invalid run ids resolve to a path that never exists so reads are
		// empty and writes fail the run check.
		path = filepath.Join(s.paths.Root(), "invalid", key.FileName())
	}
	c := &Collection[T]{
		key:    key,
		path:   path,
		runID:  runID,
		idOf:   idOf,
		locks:  s.locks,
		logger: s.logger.WithRun(runID).WithStateType(string(key)),
	}
	if runID != "" {
		c.runDir = s.paths.RunDir(runID)
		if err != nil {
			c.runDir = filepath.Dir(path)
		}
	}
	return c
}

// Path returns the collection's file path.
func (c *Collection[T]) Path() string {
	return c.path
}

// Key returns the collection's state type.
func (c *Collection[T]) Key() paths.FileKey {
	return c.key
}

// LoadDetailed reads the file and decodes it record by record. A missing
// file is an empty collection. A file that is not a JSON array degrades to
// an empty, Corrupt result; only I/O failures are returned as errors.
func (c *Collection[T]) LoadDetailed(ctx context.Context) (DecodeResult[T], error) {
	if err := ctx.Err(); err != nil {
		return DecodeResult[T]{}, err
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return DecodeResult[T]{Items: []T{}}, nil
		}
		return DecodeResult[T]{}, errors.Wrapf(err, "read %s", c.path)
	}

	result, err := DecodeRecords[T](data)
	if err != nil {
		var perr *errors.ParseError
		if errors.As(err, &perr) {
			perr.Path = c.path
		}
		c.logger.Warn("state file is not a valid JSON array, treating as empty",
			"path", c.path, "error", err)
		return result, nil
	}
	for _, r := range result.Rejected {
		c.logger.Warn("skipping invalid record",
			"path", c.path, "index", r.Index, "reason", r.Reason)
	}
	return result, nil
}

// Load returns the valid records.
func (c *Collection[T]) Load(ctx context.Context) ([]T, error) {
	result, err := c.LoadDetailed(ctx)
	if err != nil {
		return nil, err
	}
	return result.Items, nil
}

// Save replaces the collection with items. It refuses to write an empty
// collection over a file that still holds records (or cannot be parsed),
// since that almost always means validation dropped them during load.
func (c *Collection[T]) Save(ctx context.Context, items []T) error {
	return c.locks.Serialize(ctx, c.path, func() error {
		if len(items) == 0 {
			current, err := c.LoadDetailed(ctx)
			if err != nil {
				return err
			}
			if current.RawCount > 0 || current.Corrupt {
				return c.dataLoss(current.RawCount, 0)
			}
		}
		if err := c.checkRun(); err != nil {
			return err
		}
		return c.write(items)
	})
}

// mutateFunc transforms the loaded records. It returns the records to write
// and whether anything changed; nothing is written when changed is false.
type mutateFunc[T any] func(items []T) (out []T, changed bool, err error)

// mutate runs a read-modify-write cycle. With safe set the cycle holds the
// cross-process lock on the file in addition to the in-process queue.
func (c *Collection[T]) mutate(ctx context.Context, safe bool, fn mutateFunc[T]) error {
	if err := c.checkRun(); err != nil {
		return err
	}
	body := func() error {
		current, err := c.LoadDetailed(ctx)
		if err != nil {
			return err
		}
		if current.Lossy() {
			return c.dataLoss(current.RawCount, len(current.Items))
		}
		out, changed, err := fn(current.Items)
		if err != nil || !changed {
			return err
		}
		return c.write(out)
	}
	if safe {
		return c.locks.Exclusive(ctx, c.path, body)
	}
	return c.locks.Serialize(ctx, c.path, body)
}

func (c *Collection[T]) write(items []T) error {
	if items == nil {
		items = []T{}
	}
	if err := fsutil.WriteJSON(c.path, items); err != nil {
		return errors.NewWriteError(c.path, err)
	}
	return nil
}

// checkRun fails when the collection belongs to a run whose directory does
// not exist, so writes never resurrect a deleted or unknown run.
func (c *Collection[T]) checkRun() error {
	if c.runDir == "" || fsutil.Exists(c.runDir) {
		return nil
	}
	return errors.NewNotFoundError("run", c.runID).WithCause(errors.ErrRunNotFound)
}

func (c *Collection[T]) dataLoss(rawCount, validCount int) error {
	err := errors.NewDataLossError(c.path, rawCount, validCount)
	c.logger.Error("refusing to overwrite state file: records on disk failed validation",
		"path", c.path,
		"raw_count", rawCount,
		"valid_count", validCount,
		"action", "fix schema issues in the file before retrying",
	)
	return err
}

// find returns the index of the record with id, or -1.
func (c *Collection[T]) find(items []T, id string) int {
	for i := range items {
		if c.idOf(&items[i]) == id {
			return i
		}
	}
	return -1
}

// Read returns a copy of the record with id, or nil when absent.
func (c *Collection[T]) Read(ctx context.Context, id string) (*T, error) {
	items, err := c.Load(ctx)
	if err != nil {
		return nil, err
	}
	if i := c.find(items, id); i >= 0 {
		item := items[i]
		return &item, nil
	}
	return nil, nil
}

// Filter returns the records for which keep is true.
func (c *Collection[T]) Filter(ctx context.Context, keep func(*T) bool) ([]T, error) {
	items, err := c.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := []T{}
	for i := range items {
		if keep(&items[i]) {
			out = append(out, items[i])
		}
	}
	return out, nil
}

// Delete removes the record with id and reports whether it existed.
func (c *Collection[T]) Delete(ctx context.Context, id string) (bool, error) {
	deleted := false
	err := c.mutate(ctx, false, func(items []T) ([]T, bool, error) {
		i := c.find(items, id)
		if i < 0 {
			return items, false, nil
		}
		deleted = true
		return append(items[:i], items[i+1:]...), true, nil
	})
	if errors.Is(err, errors.ErrRunNotFound) {
		return false, nil
	}
	return deleted, err
}

// insert appends a record built by build, which sees the current records so
// it can allocate an id. The record is validated before it is written.
func (c *Collection[T]) insert(ctx context.Context, build func(items []T) (T, error)) (*T, error) {
	var created T
	err := c.mutate(ctx, false, func(items []T) ([]T, bool, error) {
		item, err := build(items)
		if err != nil {
			return nil, false, err
		}
		if err := validateRecord(&item); err != nil {
			return nil, false, err
		}
		created = item
		return append(items, item), true, nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// update applies one patch function to the record with id. It returns nil
// (and writes nothing) when the record does not exist.
func (c *Collection[T]) update(ctx context.Context, safe bool, id string, apply func(items []T, i int) error) (*T, error) {
	res, err := c.batch(ctx, safe, []pendingUpdate[T]{{id: id, apply: apply}})
	if err != nil {
		return nil, err
	}
	if len(res.Updated) == 0 {
		return nil, nil
	}
	return &res.Updated[0], nil
}

type pendingUpdate[T any] struct {
	id    string
	apply func(items []T, i int) error
}

// BatchResult reports the outcome of a batch update.
type BatchResult[T any] struct {
	// Updated holds the records after all updates, in request order.
	Updated []T
	// Missing lists requested ids that were not found.
	Missing []string
}

// batch applies every update in a single load-mutate-save cycle. Each
// record is validated after its patch; any invalid record aborts the whole
// batch without writing.
func (c *Collection[T]) batch(ctx context.Context, safe bool, updates []pendingUpdate[T]) (BatchResult[T], error) {
	var res BatchResult[T]
	err := c.mutate(ctx, safe, func(items []T) ([]T, bool, error) {
		res = BatchResult[T]{}
		var touched []int
		for _, u := range updates {
			i := c.find(items, u.id)
			if i < 0 {
				res.Missing = append(res.Missing, u.id)
				continue
			}
			if err := u.apply(items, i); err != nil {
				return nil, false, err
			}
			if err := validateRecord(&items[i]); err != nil {
				return nil, false, errors.Wrapf(err, "update %s", u.id)
			}
			touched = append(touched, i)
		}
		for _, i := range touched {
			res.Updated = append(res.Updated, items[i])
		}
		return items, len(touched) > 0, nil
	})
	if errors.Is(err, errors.ErrRunNotFound) {
		res = BatchResult[T]{}
		for _, u := range updates {
			res.Missing = append(res.Missing, u.id)
		}
		return res, nil
	}
	return res, err
}
