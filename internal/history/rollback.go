package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Iron-Ham/milhouse/internal/errors"
	"github.com/Iron-Ham/milhouse/internal/fsutil"
	"github.com/Iron-Ham/milhouse/internal/paths"
)

// BackupReasonPrefix starts the reason of every pre-rollback backup.
const BackupReasonPrefix = "Pre-rollback backup"

// RollbackOptions controls Rollback.
type RollbackOptions struct {
	// SkipBackup restores without first snapshotting the live file.
	SkipBackup bool
	// AgentID is recorded on the backup snapshot.
	AgentID string
}

// RollbackResult describes a completed rollback.
type RollbackResult struct {
	Restored SnapshotMeta  `json:"restored" yaml:"restored"`
	Backup   *SnapshotMeta `json:"backup,omitempty" yaml:"backup,omitempty"`
	Path     string        `json:"path" yaml:"path"`
}

// Rollback overwrites the live state file of key with the snapshot id. The
// current file is first saved as a backup snapshot unless opts.SkipBackup is
// set, so a rollback can itself be rolled back. The backup and the overwrite
// run under the live file's cross-process lock. Returns nil when the
// snapshot does not exist.
func (s *Store) Rollback(ctx context.Context, runID string, key paths.FileKey, id string, opts RollbackOptions) (*RollbackResult, error) {
	snap, err := s.LoadSnapshot(ctx, runID, key, id)
	if err != nil || snap == nil {
		return nil, err
	}
	if err := s.checkRun(runID); err != nil {
		return nil, err
	}
	live, err := s.paths.StateFile(key, runID)
	if err != nil {
		return nil, err
	}

	content, err := indentJSON(snap.Data)
	if err != nil {
		return nil, errors.NewParseError(live, err)
	}

	result := &RollbackResult{Restored: snap.Meta, Path: live}
	err = s.locks.Exclusive(ctx, live, func() error {
		if !opts.SkipBackup {
			backup, err := s.SaveSnapshot(ctx, runID, key, s.currentData(live), SaveOptions{
				Reason:  fmt.Sprintf("%s (rolling back to %s)", BackupReasonPrefix, id),
				AgentID: opts.AgentID,
			})
			if err != nil {
				return errors.Wrap(err, "backup before rollback")
			}
			result.Backup = backup
		}
		if err := fsutil.WriteFileAtomic(live, content, 0644); err != nil {
			return errors.NewWriteError(live, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithRun(runID).Info("state rolled back",
		"state_type", key, "snapshot_id", id, "backup", result.Backup != nil)
	return result, nil
}

// currentData returns the live file as JSON for a backup. A missing or
// empty file backs up as an empty array; content that is not JSON is kept
// verbatim as a JSON string.
func (s *Store) currentData(path string) json.RawMessage {
	data, err := os.ReadFile(path)
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("[]")
	}
	if json.Valid(data) {
		return json.RawMessage(data)
	}
	s.logger.Warn("live state file is not valid JSON, backing it up as text", "path", path)
	quoted, _ := json.Marshal(string(data))
	return json.RawMessage(quoted)
}

func indentJSON(data json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
