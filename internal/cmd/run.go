package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Iron-Ham/milhouse/internal/errors"
	"github.com/Iron-Ham/milhouse/internal/run"
	"github.com/Iron-Ham/milhouse/internal/state"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create, list, select and clean up runs",
	}
	cmd.AddCommand(
		newRunCreateCmd(a),
		newRunListCmd(a),
		newRunShowCmd(a),
		newRunUseCmd(a),
		newRunDeleteCmd(a),
		newRunPhaseCmd(a),
		newRunCleanupCmd(a),
	)
	return cmd
}

func newRunCreateCmd(a *app) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a run and make it current",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := run.CreateOptions{Scope: scope}
			if len(args) == 1 {
				opts.Name = args[0]
			}
			var meta *run.Meta
			err := a.mutate(cmd.Context(), "run create", func(ctx context.Context) error {
				var err error
				meta, err = a.runs.CreateRun(ctx, opts)
				return err
			})
			if err != nil {
				return fmt.Errorf("failed to create run: %w", err)
			}
			return a.render(meta, func(w io.Writer) error {
				fmt.Fprintf(w, "Created run %s\n", headerStyle.Render(meta.ID))
				fmt.Fprintf(w, "State directory: %s\n", a.runs.Paths().StateDir(meta.ID))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "what the run covers, e.g. a package path")
	return cmd
}

type runListEntry struct {
	run.Summary
	Current bool `json:"current"`
}

func newRunListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runs, err := a.runs.ListRuns(ctx)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}
			current, err := a.runs.CurrentRunID(ctx)
			if err != nil {
				return err
			}

			entries := make([]runListEntry, 0, len(runs))
			for _, r := range runs {
				entries = append(entries, runListEntry{Summary: r, Current: r.ID == current})
			}
			return a.render(entries, func(w io.Writer) error {
				if len(entries) == 0 {
					fmt.Fprintln(w, "No runs. Create one with 'milhouse run create'.")
					return nil
				}
				fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("  %-40s %-10s %-19s %s", "ID", "PHASE", "CREATED", "NAME")))
				for _, e := range entries {
					marker := " "
					if e.Current {
						marker = successStyle.Render("*")
					}
					fmt.Fprintf(w, "%s %-40s %s %-19s %s\n",
						marker, e.ID,
						statusStyle(string(e.Phase)).Render(fmt.Sprintf("%-10s", e.Phase)),
						formatTime(e.CreatedAt), truncate(e.Name, maxTitleWidth))
				}
				return nil
			})
		},
	}
}

// runDetails is the output of run show.
type runDetails struct {
	Meta       *run.Meta                `json:"meta"`
	Current    bool                     `json:"current"`
	Tasks      map[state.TaskStatus]int `json:"tasks"`
	Executions state.TokenTotals        `json:"tokens"`
	Issues     int                      `json:"issues"`
}

func newRunShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [run-id]",
		Short: "Show a run's metadata and state counts (default: current run)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			flag := ""
			if len(args) == 1 {
				flag = args[0]
			}
			id, err := a.requireRun(ctx, flag)
			if err != nil {
				return err
			}
			meta, err := a.runs.GetRun(ctx, id)
			if err != nil {
				return err
			}
			if meta == nil {
				return errors.NewNotFoundError("run", id).WithCause(errors.ErrRunNotFound)
			}
			current, err := a.runs.CurrentRunID(ctx)
			if err != nil {
				return err
			}

			counts, err := a.store.TasksForRun(id).CountByStatus(ctx)
			if err != nil {
				return err
			}
			tokens, err := a.store.ExecutionsForRun(id).TokenTotals(ctx)
			if err != nil {
				return err
			}
			issues, err := a.store.IssuesForRun(id).Load(ctx)
			if err != nil {
				return err
			}

			details := runDetails{
				Meta:       meta,
				Current:    id == current,
				Tasks:      counts,
				Executions: tokens,
				Issues:     len(issues),
			}
			return a.render(details, func(w io.Writer) error {
				return printRunDetails(w, details)
			})
		},
	}
}

func printRunDetails(w io.Writer, d runDetails) error {
	m := d.Meta
	title := "Run " + m.ID
	if d.Current {
		title += " (current)"
	}
	fmt.Fprintln(w, headerStyle.Render(title))
	fmt.Fprintln(w, divider())
	if m.Name != "" {
		fmt.Fprintf(w, "Name:     %s\n", m.Name)
	}
	if m.Scope != "" {
		fmt.Fprintf(w, "Scope:    %s\n", m.Scope)
	}
	fmt.Fprintf(w, "Phase:    %s\n", statusStyle(string(m.Phase)).Render(string(m.Phase)))
	fmt.Fprintf(w, "Created:  %s\n", formatTime(m.CreatedAt))
	fmt.Fprintf(w, "Updated:  %s\n", formatTime(m.UpdatedAt))
	fmt.Fprintln(w)

	fmt.Fprintln(w, headerStyle.Render("Stats"))
	fmt.Fprintf(w, "Issues:   %d found, %d validated (%d on file)\n", m.IssuesFound, m.IssuesValidated, d.Issues)
	fmt.Fprintf(w, "Tasks:    %d total, %d completed, %d failed\n", m.TasksTotal, m.TasksCompleted, m.TasksFailed)
	for _, status := range taskStatuses {
		if n := d.Tasks[status]; n > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", status, n)
		}
	}
	fmt.Fprintf(w, "Tokens:   %d in, %d out, %d total\n", d.Executions.Input, d.Executions.Output, d.Executions.Total)
	return nil
}

var taskStatuses = []state.TaskStatus{
	state.TaskPending, state.TaskRunning, state.TaskDone, state.TaskFailed,
	state.TaskBlocked, state.TaskSkipped, state.TaskMergeError,
}

func newRunUseCmd(a *app) *cobra.Command {
	var clearRun bool
	cmd := &cobra.Command{
		Use:   "use <run-id>",
		Short: "Select the current run",
		Long: `Select the current run. State commands without --run operate on it.

With --clear, no run is current and state commands use the legacy
.milhouse/state directory.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if clearRun {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if !clearRun {
				id = args[0]
			}
			err := a.mutate(cmd.Context(), "run use", func(ctx context.Context) error {
				return a.runs.SetCurrentRun(ctx, id)
			})
			if err != nil {
				return err
			}
			if id == "" {
				fmt.Fprintln(a.out, "No current run")
				return nil
			}
			fmt.Fprintf(a.out, "Current run: %s\n", headerStyle.Render(id))
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearRun, "clear", false, "unset the current run")
	return cmd
}

func newRunDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and all its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			var deleted bool
			err := a.mutate(cmd.Context(), "run delete", func(ctx context.Context) error {
				var err error
				deleted, err = a.runs.DeleteRun(ctx, id)
				return err
			})
			if err != nil {
				return fmt.Errorf("failed to delete run: %w", err)
			}
			if !deleted {
				return errors.NewNotFoundError("run", id).WithCause(errors.ErrRunNotFound)
			}
			fmt.Fprintf(a.out, "Deleted run %s\n", id)
			return nil
		},
	}
}

func newRunPhaseCmd(a *app) *cobra.Command {
	var runFlag string
	cmd := &cobra.Command{
		Use:   "phase <phase>",
		Short: "Set the phase of a run",
		Long: fmt.Sprintf(`Set the phase of a run (default: current run).

Phases: %v`, run.Phases()),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := a.requireRun(ctx, runFlag)
			if err != nil {
				return err
			}
			phase := run.Phase(args[0])
			var meta *run.Meta
			err = a.mutate(ctx, "run phase", func(ctx context.Context) error {
				var err error
				meta, err = a.runs.UpdatePhase(ctx, id, phase)
				return err
			})
			if err != nil {
				return err
			}
			if meta == nil {
				return errors.NewNotFoundError("run", id).WithCause(errors.ErrRunNotFound)
			}
			return a.render(meta, func(w io.Writer) error {
				fmt.Fprintf(w, "Run %s is now in phase %s\n", meta.ID, statusStyle(string(phase)).Render(string(phase)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runFlag, "run", "", "run id (default: current run)")
	return cmd
}

func newRunCleanupCmd(a *app) *cobra.Command {
	var (
		olderThanDays  int
		keepLast       int
		includeCurrent bool
		dryRun         bool
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old runs",
		Long: `Delete runs older than --older-than-days or beyond the newest --keep-last.
The current run is kept unless --include-current is set. Defaults come from
the runs section of the config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := run.CleanupOptions{
				OlderThan:      a.cfg.Runs.MaxAge(),
				KeepLast:       a.cfg.Runs.KeepLast,
				IncludeCurrent: includeCurrent,
				DryRun:         dryRun,
			}
			if cmd.Flags().Changed("older-than-days") {
				opts.OlderThan = time.Duration(olderThanDays) * 24 * time.Hour
			}
			if cmd.Flags().Changed("keep-last") {
				opts.KeepLast = keepLast
			}

			report, err := a.runs.CleanupOldRuns(cmd.Context(), opts)
			if report == nil {
				return fmt.Errorf("cleanup failed: %w", err)
			}
			if renderErr := a.render(report, func(w io.Writer) error {
				return printCleanupReport(w, report)
			}); renderErr != nil {
				return renderErr
			}
			return err
		},
	}
	cmd.Flags().IntVar(&olderThanDays, "older-than-days", 0, "delete runs created more than this many days ago (0 disables)")
	cmd.Flags().IntVar(&keepLast, "keep-last", 0, "always keep this many of the newest runs (0 disables)")
	cmd.Flags().BoolVar(&includeCurrent, "include-current", false, "allow deleting the current run")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be deleted without deleting")
	return cmd
}

func printCleanupReport(w io.Writer, r *run.CleanupReport) error {
	verb := "Deleted"
	if r.DryRun {
		verb = "Would delete"
	}
	if len(r.Deleted) == 0 {
		fmt.Fprintln(w, "No runs to clean up")
	} else {
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s %d run(s):", verb, len(r.Deleted))))
		for _, e := range r.Deleted {
			fmt.Fprintf(w, "  %s %s\n", errorStyle.Render(e.ID), mutedStyle.Render("("+e.Reason+")"))
		}
	}
	if len(r.Kept) > 0 {
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Kept %d run(s):", len(r.Kept))))
		for _, e := range r.Kept {
			fmt.Fprintf(w, "  %s %s\n", e.ID, mutedStyle.Render("("+e.Reason+")"))
		}
	}
	return nil
}
