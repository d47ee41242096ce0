// Package migrate moves state from the legacy flat layout
// (.milhouse/state/*.json) into a newly created run.
package migrate

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/milhouse/internal/errors"
	"github.com/Iron-Ham/milhouse/internal/fsutil"
	"github.com/Iron-Ham/milhouse/internal/logging"
	"github.com/Iron-Ham/milhouse/internal/paths"
	"github.com/Iron-Ham/milhouse/internal/run"
)

// DefaultRunName names the run created by a migration.
const DefaultRunName = "migrated"

// MarkerFileName is written into the legacy state directory once it has
// been migrated but kept.
const MarkerFileName = ".migrated.json"

// Options controls Migrate.
type Options struct {
	// Name of the new run; defaults to DefaultRunName.
	Name string
	// DeleteLegacy removes the legacy state directory after copying.
	DeleteLegacy bool
	// DryRun reports what would be copied without creating anything.
	DryRun bool
	Logger *logging.Logger
}

// SkippedFile is a legacy file that was not copied.
type SkippedFile struct {
	Key    paths.FileKey `json:"key" yaml:"key"`
	Reason string        `json:"reason" yaml:"reason"`
}

// Result describes a migration.
type Result struct {
	RunID         string          `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	DryRun        bool            `json:"dry_run" yaml:"dry_run"`
	Copied        []paths.FileKey `json:"copied" yaml:"copied"`
	Skipped       []SkippedFile   `json:"skipped" yaml:"skipped"`
	HistoryFiles  int             `json:"history_files" yaml:"history_files"`
	LegacyDeleted bool            `json:"legacy_deleted" yaml:"legacy_deleted"`
}

type marker struct {
	RunID      string    `json:"run_id"`
	MigratedAt time.Time `json:"migrated_at"`
}

// NeedsMigration reports whether the workspace has legacy collection files
// that have not been migrated yet.
func NeedsMigration(workDir string) bool {
	p := paths.New(workDir)
	if !p.HasLegacyState() {
		return false
	}
	return !fsutil.Exists(filepath.Join(p.LegacyStateDir(), MarkerFileName))
}

// Migrate creates a run and copies every legacy collection file and the
// legacy snapshot history into it. Files that are not JSON arrays are
// reported in Skipped and left behind. The new run becomes current.
func Migrate(ctx context.Context, reg *run.Registry, opts Options) (*Result, error) {
	p := reg.Paths()
	logger := logging.OrNop(opts.Logger).WithComponent("migrate")
	if !NeedsMigration(p.WorkDir()) {
		return nil, errors.Wrap(errors.ErrInvalidInput, "no legacy state to migrate")
	}

	res := &Result{DryRun: opts.DryRun, Copied: []paths.FileKey{}, Skipped: []SkippedFile{}}
	legacy := p.LegacyStateDir()

	var copyable []paths.FileKey
	for _, key := range paths.CollectionKeys {
		src := filepath.Join(legacy, key.FileName())
		data, err := os.ReadFile(src)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedFile{Key: key, Reason: err.Error()})
			continue
		}
		if reason := checkArray(data); reason != "" {
			logger.Warn("skipping legacy state file", "path", src, "reason", reason)
			res.Skipped = append(res.Skipped, SkippedFile{Key: key, Reason: reason})
			continue
		}
		copyable = append(copyable, key)
	}

	if opts.DryRun {
		res.Copied = copyable
		return res, nil
	}

	name := opts.Name
	if name == "" {
		name = DefaultRunName
	}
	meta, err := reg.CreateRun(ctx, run.CreateOptions{Name: name})
	if err != nil {
		return nil, err
	}
	res.RunID = meta.ID

	for _, key := range copyable {
		src := filepath.Join(legacy, key.FileName())
		dst, _ := p.StateFile(key, meta.ID)
		if err := fsutil.CopyFile(src, dst); err != nil {
			return res, errors.NewWriteError(dst, err)
		}
		res.Copied = append(res.Copied, key)
	}

	if hist := p.HistoryRoot(""); fsutil.Exists(hist) {
		n, err := fsutil.CopyDir(hist, p.HistoryRoot(meta.ID))
		res.HistoryFiles = n
		if err != nil {
			return res, err
		}
	}

	if opts.DeleteLegacy && len(res.Skipped) == 0 {
		if err := os.RemoveAll(legacy); err != nil {
			return res, errors.Wrapf(err, "remove legacy state %s", legacy)
		}
		res.LegacyDeleted = true
	} else {
		if opts.DeleteLegacy {
			logger.Warn("keeping legacy state because some files were skipped", "skipped", len(res.Skipped))
		}
		m := marker{RunID: meta.ID, MigratedAt: time.Now().UTC()}
		if err := fsutil.WriteJSON(filepath.Join(legacy, MarkerFileName), m); err != nil {
			return res, errors.NewWriteError(legacy, err)
		}
	}

	logger.WithRun(meta.ID).Info("legacy state migrated",
		"copied", len(res.Copied), "skipped", len(res.Skipped),
		"history_files", res.HistoryFiles, "legacy_deleted", res.LegacyDeleted)
	return res, nil
}

// checkArray returns why data is not a JSON array, or "". An empty file is
// accepted as an empty collection.
func checkArray(data []byte) string {
	if len(bytes.TrimSpace(data)) == 0 {
		return ""
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return "not a JSON array: " + err.Error()
	}
	return ""
}
