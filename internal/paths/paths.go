// Package paths maps logical state files to their locations under a
// workspace's .milhouse directory.
//
// Layout:
//
//	<workspace>/.milhouse/
//	  runs_index.json
//	  runs/<run-id>/
//	    meta.json
//	    state/{issues,tasks,graph,executions}.json
//	    state/history/<state-type>/<snapshot-id>.json
//	    plans/
//	    probes/
//	  state/                 legacy flat layout, used when no run is active
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/milhouse/internal/errors"
)

// Directory and file names under the workspace root.
const (
	RootDirName       = ".milhouse"
	RunsDirName       = "runs"
	StateDirName      = "state"
	HistoryDirName    = "history"
	PlansDirName      = "plans"
	ProbesDirName     = "probes"
	RunsIndexFileName = "runs_index.json"
	MetaFileName      = "meta.json"
)

// FileKey names one of the logical state files.
type FileKey string

// Logical state files.
const (
	KeyIssues     FileKey = "issues"
	KeyTasks      FileKey = "tasks"
	KeyGraph      FileKey = "graph"
	KeyExecutions FileKey = "executions"
	KeyMeta       FileKey = "meta"
)

// CollectionKeys are the keys that hold JSON arrays of records.
var CollectionKeys = []FileKey{KeyIssues, KeyTasks, KeyGraph, KeyExecutions}

// Valid reports whether k is a known key.
func (k FileKey) Valid() bool {
	switch k {
	case KeyIssues, KeyTasks, KeyGraph, KeyExecutions, KeyMeta:
		return true
	}
	return false
}

// IsCollection reports whether k names an array-of-records file.
func (k FileKey) IsCollection() bool {
	return k.Valid() && k != KeyMeta
}

// FileName returns the on-disk file name for k.
func (k FileKey) FileName() string {
	return string(k) + ".json"
}

// Resolver resolves paths for one workspace.
type Resolver struct {
	workDir string
}

// New creates a Resolver for workDir. A relative workDir is made absolute so
// resolved paths can be used as lock keys.
func New(workDir string) *Resolver {
	if workDir == "" {
		workDir = "."
	}
	if abs, err := filepath.Abs(workDir); err == nil {
		workDir = abs
	}
	return &Resolver{workDir: workDir}
}

// WorkDir returns the workspace directory.
func (r *Resolver) WorkDir() string {
	return r.workDir
}

// Root returns <workspace>/.milhouse.
func (r *Resolver) Root() string {
	return filepath.Join(r.workDir, RootDirName)
}

// RunsIndexPath returns the path of the shared runs index.
func (r *Resolver) RunsIndexPath() string {
	return filepath.Join(r.Root(), RunsIndexFileName)
}

// RunsDir returns the directory holding all run directories.
func (r *Resolver) RunsDir() string {
	return filepath.Join(r.Root(), RunsDirName)
}

// RunDir returns the directory of a single run.
func (r *Resolver) RunDir(runID string) string {
	return filepath.Join(r.RunsDir(), runID)
}

// MetaPath returns the meta.json path of a run.
func (r *Resolver) MetaPath(runID string) string {
	return filepath.Join(r.RunDir(runID), MetaFileName)
}

// StateDir returns the state directory of a run, or the legacy state
// directory when runID is empty.
func (r *Resolver) StateDir(runID string) string {
	if runID == "" {
		return r.LegacyStateDir()
	}
	return filepath.Join(r.RunDir(runID), StateDirName)
}

// PlansDir returns the plans directory of a run.
func (r *Resolver) PlansDir(runID string) string {
	return filepath.Join(r.RunDir(runID), PlansDirName)
}

// ProbesDir returns the probes directory of a run.
func (r *Resolver) ProbesDir(runID string) string {
	return filepath.Join(r.RunDir(runID), ProbesDirName)
}

// HistoryRoot returns the history directory of a run (all state types).
func (r *Resolver) HistoryRoot(runID string) string {
	return filepath.Join(r.StateDir(runID), HistoryDirName)
}

// HistoryDir returns the snapshot directory for one state type of a run.
func (r *Resolver) HistoryDir(runID string, key FileKey) string {
	return filepath.Join(r.HistoryRoot(runID), string(key))
}

// LegacyStateDir returns the pre-run flat state directory.
func (r *Resolver) LegacyStateDir() string {
	return filepath.Join(r.Root(), StateDirName)
}

// StateFile resolves key for runID. An empty runID selects the legacy flat
// layout.
func (r *Resolver) StateFile(key FileKey, runID string) (string, error) {
	if !key.Valid() {
		return "", fmt.Errorf("unknown state file key %q: %w", key, errors.ErrInvalidInput)
	}
	if runID != "" {
		if err := ValidateRunID(runID); err != nil {
			return "", err
		}
	}
	if key == KeyMeta {
		if runID == "" {
			return filepath.Join(r.LegacyStateDir(), MetaFileName), nil
		}
		return r.MetaPath(runID), nil
	}
	return filepath.Join(r.StateDir(runID), key.FileName()), nil
}

// HasLegacyState reports whether any collection file exists in the legacy
// state directory.
func (r *Resolver) HasLegacyState() bool {
	for _, key := range CollectionKeys {
		if _, err := os.Stat(filepath.Join(r.LegacyStateDir(), key.FileName())); err == nil {
			return true
		}
	}
	return false
}

// ValidateRunID rejects ids that could escape the runs directory.
func ValidateRunID(runID string) error {
	if runID == "" || runID == "." || strings.Contains(runID, "..") ||
		strings.ContainsAny(runID, `/\`) {
		return fmt.Errorf("invalid run id %q: %w", runID, errors.ErrInvalidInput)
	}
	return nil
}
