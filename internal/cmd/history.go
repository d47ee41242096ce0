package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Iron-Ham/milhouse/internal/errors"
	"github.com/Iron-Ham/milhouse/internal/history"
	"github.com/Iron-Ham/milhouse/internal/paths"
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage state snapshots",
		Long: fmt.Sprintf(`Save, list, compare and restore snapshots of a run's state files.

State types: %v`, paths.CollectionKeys),
	}
	cmd.PersistentFlags().String("run", "", "run id (default: current run)")
	cmd.AddCommand(
		newHistorySaveCmd(a),
		newHistoryListCmd(a),
		newHistoryShowCmd(a),
		newHistoryRollbackCmd(a),
		newHistoryDeleteCmd(a),
		newHistoryPruneCmd(a),
		newHistoryDiffCmd(a),
	)
	return cmd
}

// historyTarget resolves the --run flag and the state type argument.
func (a *app) historyTarget(cmd *cobra.Command, typeArg string) (string, paths.FileKey, error) {
	key, err := parseKey(typeArg)
	if err != nil {
		return "", "", err
	}
	flag, _ := cmd.Flags().GetString("run")
	id, err := a.requireRun(cmd.Context(), flag)
	if err != nil {
		return "", "", err
	}
	return id, key, nil
}

func newHistorySaveCmd(a *app) *cobra.Command {
	var reason, agent string
	cmd := &cobra.Command{
		Use:   "save <state-type>",
		Short: "Snapshot the current contents of a state file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, key, err := a.historyTarget(cmd, args[0])
			if err != nil {
				return err
			}
			path, err := a.runs.Paths().StateFile(key, id)
			if err != nil {
				return err
			}
			data, err := readStateFile(path)
			if err != nil {
				return err
			}

			var meta *history.SnapshotMeta
			err = a.mutate(cmd.Context(), "history save", func(ctx context.Context) error {
				var err error
				meta, err = a.history.SaveSnapshot(ctx, id, key, data, history.SaveOptions{Reason: reason, AgentID: agent})
				return err
			})
			if err != nil {
				return fmt.Errorf("failed to save snapshot: %w", err)
			}
			return a.render(meta, func(w io.Writer) error {
				if !a.history.Enabled() {
					fmt.Fprintln(w, warningStyle.Render("History is disabled; nothing was written"))
					return nil
				}
				fmt.Fprintf(w, "Saved %s snapshot %s (%d bytes)\n", key, headerStyle.Render(meta.ID), meta.SizeBytes)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual snapshot", "reason recorded on the snapshot")
	cmd.Flags().StringVar(&agent, "agent", "", "agent id recorded on the snapshot")
	return cmd
}

// readStateFile returns the raw JSON of a state file, or an empty array
// when the file is missing or empty.
func readStateFile(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(strings.TrimSpace(string(data))) == 0) {
		return json.RawMessage("[]"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !json.Valid(data) {
		return nil, errors.NewParseError(path, fmt.Errorf("not valid JSON"))
	}
	return json.RawMessage(data), nil
}

func newHistoryListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <state-type>",
		Short: "List snapshots, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, key, err := a.historyTarget(cmd, args[0])
			if err != nil {
				return err
			}
			snaps, err := a.history.ListSnapshots(cmd.Context(), id, key)
			if err != nil {
				return fmt.Errorf("failed to list snapshots: %w", err)
			}
			if snaps == nil {
				snaps = []history.SnapshotMeta{}
			}
			return a.render(snaps, func(w io.Writer) error {
				if len(snaps) == 0 {
					fmt.Fprintf(w, "No %s snapshots\n", key)
					return nil
				}
				fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-26s %-10s %s", "ID", "SIZE", "REASON")))
				for _, s := range snaps {
					reason := s.Reason
					if s.AgentID != "" {
						reason += mutedStyle.Render(" [" + s.AgentID + "]")
					}
					fmt.Fprintf(w, "%-26s %-10s %s\n", s.ID, fmt.Sprintf("%dB", s.SizeBytes), reason)
				}
				return nil
			})
		},
	}
}

func newHistoryShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <state-type> <snapshot-id>",
		Short: "Print a snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, key, err := a.historyTarget(cmd, args[0])
			if err != nil {
				return err
			}
			snap, err := a.history.LoadSnapshot(cmd.Context(), id, key, args[1])
			if err != nil {
				return err
			}
			if snap == nil {
				return errors.NewNotFoundError("snapshot", args[1]).WithCause(errors.ErrSnapshotNotFound)
			}
			return a.render(snap, func(w io.Writer) error {
				fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Snapshot %s (%s)", snap.Meta.ID, snap.Meta.StateType)))
				fmt.Fprintf(w, "Created: %s\n", formatTime(snap.Meta.CreatedAt))
				if snap.Meta.Reason != "" {
					fmt.Fprintf(w, "Reason:  %s\n", snap.Meta.Reason)
				}
				if snap.Meta.AgentID != "" {
					fmt.Fprintf(w, "Agent:   %s\n", snap.Meta.AgentID)
				}
				fmt.Fprintln(w, divider())
				pretty, err := json.MarshalIndent(snap.Data, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(w, string(pretty))
				return nil
			})
		},
	}
}

func newHistoryRollbackCmd(a *app) *cobra.Command {
	var (
		skipBackup bool
		agent      string
	)
	cmd := &cobra.Command{
		Use:   "rollback <state-type> <snapshot-id>",
		Short: "Restore a state file from a snapshot",
		Long: `Restore a state file from a snapshot. The current file is saved as a
"Pre-rollback backup" snapshot first unless --skip-backup is set.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, key, err := a.historyTarget(cmd, args[0])
			if err != nil {
				return err
			}
			var result *history.RollbackResult
			err = a.mutate(cmd.Context(), "history rollback", func(ctx context.Context) error {
				var err error
				result, err = a.history.Rollback(ctx, id, key, args[1], history.RollbackOptions{
					SkipBackup: skipBackup,
					AgentID:    agent,
				})
				return err
			})
			if err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			if result == nil {
				return errors.NewNotFoundError("snapshot", args[1]).WithCause(errors.ErrSnapshotNotFound)
			}
			return a.render(result, func(w io.Writer) error {
				fmt.Fprintf(w, "Restored %s from snapshot %s\n", result.Path, headerStyle.Render(result.Restored.ID))
				if result.Backup != nil {
					fmt.Fprintf(w, "Backup snapshot: %s\n", result.Backup.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&skipBackup, "skip-backup", false, "do not snapshot the current file first")
	cmd.Flags().StringVar(&agent, "agent", "", "agent id recorded on the backup snapshot")
	return cmd
}

func newHistoryDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <state-type> <snapshot-id>",
		Short: "Delete one snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, key, err := a.historyTarget(cmd, args[0])
			if err != nil {
				return err
			}
			deleted, err := a.history.DeleteSnapshot(cmd.Context(), id, key, args[1])
			if err != nil {
				return err
			}
			if !deleted {
				return errors.NewNotFoundError("snapshot", args[1]).WithCause(errors.ErrSnapshotNotFound)
			}
			fmt.Fprintf(a.out, "Deleted %s snapshot %s\n", key, args[1])
			return nil
		},
	}
}

type pruneResult struct {
	Deleted []string `json:"deleted"`
	Cleared bool     `json:"cleared"`
}

func newHistoryPruneCmd(a *app) *cobra.Command {
	var (
		keep int
		all  bool
	)
	cmd := &cobra.Command{
		Use:   "prune <state-type>",
		Short: "Delete old snapshots",
		Long: `Delete all but the newest --keep snapshots (default: history.max_snapshots).
With --all, every snapshot of the state type is deleted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, key, err := a.historyTarget(cmd, args[0])
			if err != nil {
				return err
			}

			var result pruneResult
			if all {
				snaps, err := a.history.ListSnapshots(ctx, id, key)
				if err != nil {
					return err
				}
				if _, err := a.history.ClearHistory(ctx, id, key); err != nil {
					return fmt.Errorf("failed to clear history: %w", err)
				}
				result.Cleared = true
				result.Deleted = make([]string, 0, len(snaps))
				for _, s := range snaps {
					result.Deleted = append(result.Deleted, s.ID)
				}
			} else {
				limit := a.history.MaxSnapshots()
				if cmd.Flags().Changed("keep") {
					limit = keep
				}
				deleted, err := a.history.EnforceLimit(ctx, id, key, limit)
				if err != nil {
					return fmt.Errorf("failed to prune snapshots: %w", err)
				}
				result.Deleted = nonNilIDs(deleted)
			}

			return a.render(result, func(w io.Writer) error {
				fmt.Fprintf(w, "Deleted %d %s snapshot(s)\n", len(result.Deleted), key)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "number of newest snapshots to keep")
	cmd.Flags().BoolVar(&all, "all", false, "delete every snapshot")
	return cmd
}

func newHistoryDiffCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <state-type> <from-id> <to-id>",
		Short: "Compare two snapshots record by record",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, key, err := a.historyTarget(cmd, args[0])
			if err != nil {
				return err
			}
			diff, err := a.history.Compare(cmd.Context(), id, key, args[1], args[2])
			if err != nil {
				return err
			}
			return a.render(diff, func(w io.Writer) error {
				if diff.Empty() {
					fmt.Fprintln(w, "No differences")
					return nil
				}
				for _, rid := range diff.Added {
					fmt.Fprintln(w, successStyle.Render("+ "+rid))
				}
				for _, rid := range diff.Removed {
					fmt.Fprintln(w, errorStyle.Render("- "+rid))
				}
				for _, rid := range diff.Changed {
					fmt.Fprintln(w, warningStyle.Render("~ "+rid))
				}
				return nil
			})
		},
	}
}
