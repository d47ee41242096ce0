package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Iron-Ham/milhouse/internal/graph"
	"github.com/Iron-Ham/milhouse/internal/state"
	"github.com/spf13/cobra"
)

func newTaskCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect a run's tasks and dependency graph",
	}
	cmd.PersistentFlags().String("run", "", "run id (default: current run, or the legacy state directory when none)")
	cmd.AddCommand(
		newTaskListCmd(a),
		newTaskReadyCmd(a),
		newTaskGraphCmd(a),
	)
	return cmd
}

// taskStore resolves the --run flag to a task store.
func (a *app) taskStore(cmd *cobra.Command) (*state.TaskStore, error) {
	flag, _ := cmd.Flags().GetString("run")
	id, err := a.runID(cmd.Context(), flag)
	if err != nil {
		return nil, err
	}
	return a.store.TasksForRun(id), nil
}

func newTaskListCmd(a *app) *cobra.Command {
	var (
		statuses []string
		issueID  string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tasks, err := a.taskStore(cmd)
			if err != nil {
				return err
			}

			var list []state.Task
			switch {
			case issueID != "":
				list, err = tasks.ByIssue(ctx, issueID)
			case len(statuses) > 0:
				want := make([]state.TaskStatus, 0, len(statuses))
				for _, s := range statuses {
					want = append(want, state.TaskStatus(s))
				}
				list, err = tasks.FilterByStatus(ctx, want...)
			default:
				list, err = tasks.Load(ctx)
			}
			if err != nil {
				return fmt.Errorf("failed to load tasks: %w", err)
			}
			if list == nil {
				list = []state.Task{}
			}
			return a.render(list, func(w io.Writer) error {
				printTasks(w, list)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "only tasks with these statuses")
	cmd.Flags().StringVar(&issueID, "issue", "", "only tasks derived from this issue")
	return cmd
}

func newTaskReadyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "List pending tasks whose dependencies are all done",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := a.taskStore(cmd)
			if err != nil {
				return err
			}
			ready, err := tasks.Ready(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load tasks: %w", err)
			}
			if ready == nil {
				ready = []state.Task{}
			}
			return a.render(ready, func(w io.Writer) error {
				printTasks(w, ready)
				return nil
			})
		},
	}
}

func printTasks(w io.Writer, tasks []state.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks")
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-14s %-12s %-5s %s", "ID", "STATUS", "GROUP", "TITLE")))
	for _, t := range tasks {
		fmt.Fprintf(w, "%-14s %s %-5d %s\n",
			t.ID,
			statusStyle(string(t.Status)).Render(fmt.Sprintf("%-12s", t.Status)),
			t.ParallelGroup,
			truncate(t.Title, maxTitleWidth))
		if len(t.DependsOn) > 0 {
			fmt.Fprintf(w, "%-14s %s\n", "", mutedStyle.Render("depends on "+strings.Join(t.DependsOn, ", ")))
		}
	}
}

// graphReport is the output of task graph.
type graphReport struct {
	Order   []string                  `json:"order"`
	Groups  [][]string                `json:"groups"`
	Cycle   []string                  `json:"cycle,omitempty"`
	Missing []graph.MissingDependency `json:"missing,omitempty"`
	Synced  bool                      `json:"synced"`
}

func newTaskGraphCmd(a *app) *cobra.Command {
	var sync bool
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Show execution order and parallel groups",
		Long: `Show the topological execution order of the tasks and the groups that can
run in parallel. With --sync, the computed parallel groups are written back to
tasks.json and graph.json is rebuilt from the tasks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tasks, err := a.taskStore(cmd)
			if err != nil {
				return err
			}

			if sync {
				err := a.mutate(ctx, "task graph sync", func(ctx context.Context) error {
					if _, _, err := tasks.AssignParallelGroups(ctx); err != nil {
						return err
					}
					_, err := tasks.SyncGraph(ctx)
					return err
				})
				if err != nil {
					return fmt.Errorf("failed to sync graph: %w", err)
				}
			}

			g, err := tasks.BuildGraph(ctx)
			if err != nil {
				return fmt.Errorf("failed to build graph: %w", err)
			}
			if !sync {
				g.AssignParallelGroups()
			}
			sorted := g.TopologicalSort()
			report := graphReport{
				Order:   nonNilIDs(sorted.Order),
				Groups:  g.ExecutionGroups(),
				Cycle:   sorted.Cycle,
				Missing: g.Validate(),
				Synced:  sync,
			}
			return a.render(report, func(w io.Writer) error {
				printGraph(w, report)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&sync, "sync", false, "persist parallel groups and rebuild graph.json")
	return cmd
}

func printGraph(w io.Writer, r graphReport) {
	if len(r.Order) == 0 && len(r.Cycle) == 0 {
		fmt.Fprintln(w, "No tasks")
		return
	}
	fmt.Fprintln(w, headerStyle.Render("Execution groups"))
	fmt.Fprintln(w, divider())
	for i, group := range r.Groups {
		fmt.Fprintf(w, "%3d  %s\n", i, strings.Join(group, ", "))
	}
	if len(r.Cycle) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, errorStyle.Render("Dependency cycle among: "+strings.Join(r.Cycle, ", ")))
	}
	if len(r.Missing) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, warningStyle.Render("Unknown dependencies:"))
		for _, m := range r.Missing {
			fmt.Fprintf(w, "  %s -> %s\n", m.NodeID, m.MissingID)
		}
	}
	if r.Synced {
		fmt.Fprintln(w)
		fmt.Fprintln(w, successStyle.Render("Parallel groups and graph.json updated"))
	}
}

func nonNilIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
