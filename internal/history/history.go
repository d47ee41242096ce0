// Package history keeps an append-only log of state snapshots per run and
// state type, and rolls live state files back to any retained snapshot.
//
// Snapshots live under <state dir>/history/<state type>/<id>.json as
// {"meta": ..., "data": ...}. Ids are filesystem-safe UTC timestamps with
// millisecond resolution, so lexical and chronological order agree.
package history

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/milhouse/internal/errors"
	"github.com/Iron-Ham/milhouse/internal/filelock"
	"github.com/Iron-Ham/milhouse/internal/fsutil"
	"github.com/Iron-Ham/milhouse/internal/logging"
	"github.com/Iron-Ham/milhouse/internal/paths"
)

// DefaultMaxSnapshots is the retention cap used when Options leaves it zero.
const DefaultMaxSnapshots = 50

// SnapshotMeta describes one snapshot.
type SnapshotMeta struct {
	ID        string        `json:"id" yaml:"id"`
	StateType paths.FileKey `json:"state_type" yaml:"state_type"`
	CreatedAt time.Time     `json:"created_at" yaml:"created_at"`
	Reason    string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	AgentID   string        `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	SizeBytes int           `json:"size_bytes" yaml:"size_bytes"`
}

// Snapshot is a stored copy of a state file.
type Snapshot struct {
	Meta SnapshotMeta    `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// SaveOptions annotates a snapshot.
type SaveOptions struct {
	Reason  string
	AgentID string
}

// Options configures a Store.
type Options struct {
	// Disabled turns SaveSnapshot into a no-op that still returns metadata.
	Disabled bool
	// MaxSnapshots is the per run and state type retention cap.
	MaxSnapshots int
	Locks        filelock.Options
	Logger       *logging.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store reads and writes snapshots for a workspace.
type Store struct {
	paths    *paths.Resolver
	locks    *filelock.Manager
	logger   *logging.Logger
	now      func() time.Time
	disabled bool
	max      int

	mu     sync.Mutex
	lastID time.Time
}

// New creates a Store for the workspace at workDir.
func New(workDir string, opts Options) *Store {
	limit := opts.MaxSnapshots
	if limit <= 0 {
		limit = DefaultMaxSnapshots
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	lockOpts := opts.Locks
	if lockOpts.Logger == nil {
		lockOpts.Logger = opts.Logger
	}
	return &Store{
		paths:    paths.New(workDir),
		locks:    filelock.NewManager(lockOpts),
		logger:   logging.OrNop(opts.Logger).WithComponent("history"),
		now:      now,
		disabled: opts.Disabled,
		max:      limit,
	}
}

// Enabled reports whether snapshots are written.
func (s *Store) Enabled() bool {
	return !s.disabled
}

// MaxSnapshots returns the retention cap.
func (s *Store) MaxSnapshots() int {
	return s.max
}

// dir resolves and checks the snapshot directory for runID and key.
func (s *Store) dir(runID string, key paths.FileKey) (string, error) {
	if !key.IsCollection() {
		return "", errors.Wrapf(errors.ErrInvalidInput, "state type %q has no history", key)
	}
	if runID != "" {
		if err := paths.ValidateRunID(runID); err != nil {
			return "", err
		}
	}
	return s.paths.HistoryDir(runID, key), nil
}

func (s *Store) checkRun(runID string) error {
	if runID == "" || fsutil.Exists(s.paths.RunDir(runID)) {
		return nil
	}
	return errors.NewNotFoundError("run", runID).WithCause(errors.ErrRunNotFound)
}

// SaveSnapshot stores data as a new snapshot of key in runID ("" for the
// legacy layout) and then trims history to the retention cap. data may be
// any JSON-marshalable value, including json.RawMessage. With history
// disabled the metadata is returned and nothing is written.
func (s *Store) SaveSnapshot(ctx context.Context, runID string, key paths.FileKey, data any, opts SaveOptions) (*SnapshotMeta, error) {
	dir, err := s.dir(runID, key)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s snapshot", key)
	}

	if s.disabled {
		at := s.nextTime(dir, false)
		meta := s.newMeta(at, key, opts, raw)
		return &meta, nil
	}
	if err := s.checkRun(runID); err != nil {
		return nil, err
	}

	var meta SnapshotMeta
	err = s.locks.Serialize(ctx, dir, func() error {
		at := s.nextTime(dir, true)
		meta = s.newMeta(at, key, opts, raw)
		path := filepath.Join(dir, meta.ID+".json")
		if err := fsutil.WriteJSON(path, Snapshot{Meta: meta, Data: raw}); err != nil {
			return errors.NewWriteError(path, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithRun(runID).Debug("snapshot saved",
		"state_type", key, "snapshot_id", meta.ID, "reason", meta.Reason, "size_bytes", meta.SizeBytes)

	if _, err := s.EnforceLimit(ctx, runID, key, s.max); err != nil {
		s.logger.WithRun(runID).Warn("snapshot retention failed", "state_type", key, "error", err)
	}
	return &meta, nil
}

func (s *Store) newMeta(at time.Time, key paths.FileKey, opts SaveOptions, raw []byte) SnapshotMeta {
	return SnapshotMeta{
		ID:        FormatID(at),
		StateType: key,
		CreatedAt: at,
		Reason:    opts.Reason,
		AgentID:   opts.AgentID,
		SizeBytes: len(raw),
	}
}

// nextTime returns a millisecond timestamp later than any id this store
// has handed out. With checkDisk set, timestamps whose file already exists
// in dir are skipped too.
func (s *Store) nextTime(dir string, checkDisk bool) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now().UTC().Truncate(time.Millisecond)
	if !at.After(s.lastID) {
		at = s.lastID.Add(time.Millisecond)
	}
	for checkDisk && fsutil.Exists(filepath.Join(dir, FormatID(at)+".json")) {
		at = at.Add(time.Millisecond)
	}
	s.lastID = at
	return at
}

// FormatID renders t as a snapshot id, e.g. 2026-10-18T09-30-12-345Z.
func FormatID(t time.Time) string {
	id := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return strings.NewReplacer(":", "-", ".", "-").Replace(id)
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}

// ListSnapshots returns the metadata of every readable snapshot of key,
// newest first. Unreadable snapshot files are logged and skipped.
func (s *Store) ListSnapshots(ctx context.Context, runID string, key paths.FileKey) ([]SnapshotMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.dir(runID, key)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SnapshotMeta{}, nil
		}
		return nil, errors.Wrapf(err, "list %s", dir)
	}

	metas := make([]SnapshotMeta, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, fsutil.TempPrefix) {
			continue
		}
		path := filepath.Join(dir, name)
		var snap struct {
			Meta SnapshotMeta `json:"meta"`
		}
		found, err := fsutil.ReadJSON(path, &snap)
		if err != nil || !found || snap.Meta.ID == "" {
			s.logger.WithRun(runID).Warn("skipping unreadable snapshot", "path", path, "error", err)
			continue
		}
		metas = append(metas, snap.Meta)
	}

	slices.SortStableFunc(metas, func(a, b SnapshotMeta) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return metas, nil
}

// LoadSnapshot returns the snapshot with id, or nil when it does not exist.
func (s *Store) LoadSnapshot(ctx context.Context, runID string, key paths.FileKey, id string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.dir(runID, key)
	if err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, nil
	}
	path := filepath.Join(dir, id+".json")
	var snap Snapshot
	found, err := fsutil.ReadJSON(path, &snap)
	if err != nil {
		return nil, errors.NewParseError(path, err)
	}
	if !found {
		return nil, nil
	}
	return &snap, nil
}

// LatestSnapshot returns the newest snapshot of key, or nil when none exist.
func (s *Store) LatestSnapshot(ctx context.Context, runID string, key paths.FileKey) (*Snapshot, error) {
	metas, err := s.ListSnapshots(ctx, runID, key)
	if err != nil || len(metas) == 0 {
		return nil, err
	}
	return s.LoadSnapshot(ctx, runID, key, metas[0].ID)
}

// EnforceLimit deletes snapshots beyond the newest limit and returns the
// deleted ids. A file that cannot be removed is logged and skipped.
func (s *Store) EnforceLimit(ctx context.Context, runID string, key paths.FileKey, limit int) ([]string, error) {
	if limit < 0 {
		limit = 0
	}
	metas, err := s.ListSnapshots(ctx, runID, key)
	if err != nil {
		return nil, err
	}
	if len(metas) <= limit {
		return []string{}, nil
	}

	dir, _ := s.dir(runID, key)
	logger := s.logger.WithRun(runID)
	deleted := []string{}
	for _, meta := range metas[limit:] {
		path := filepath.Join(dir, meta.ID+".json")
		if err := os.Remove(path); err != nil {
			logger.Warn("failed to delete old snapshot", "path", path, "error", err)
			continue
		}
		deleted = append(deleted, meta.ID)
	}
	if len(deleted) > 0 {
		logger.Info("pruned snapshots", "state_type", key, "count", len(deleted), "kept", limit)
	}
	return deleted, nil
}

// DeleteSnapshot removes one snapshot and reports whether it existed.
func (s *Store) DeleteSnapshot(ctx context.Context, runID string, key paths.FileKey, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.dir(runID, key)
	if err != nil {
		return false, err
	}
	if !validID(id) {
		return false, nil
	}
	err = os.Remove(filepath.Join(dir, id+".json"))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, errors.Wrapf(err, "delete snapshot %s", id)
	}
}

// ClearHistory removes every snapshot of key and returns how many were
// deleted.
func (s *Store) ClearHistory(ctx context.Context, runID string, key paths.FileKey) (int, error) {
	deleted, err := s.EnforceLimit(ctx, runID, key, 0)
	return len(deleted), err
}
