package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/Iron-Ham/milhouse/internal/logging"
	"github.com/Iron-Ham/milhouse/internal/paths"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func newLogsCmd(a *app) *cobra.Command {
	var (
		level, runID, stateType, component string
		since, grep, export, exportFormat  string
		tail                               int
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View the workspace debug log",
		Long: `View and filter .milhouse/debug.log, including rotated backups.

Examples:
  # Warnings and errors for one run
  milhouse logs --run 20261018-093000-ab12cd --level warn

  # Task store activity from the last hour
  milhouse logs --type tasks --since 1h

  # Export everything as CSV
  milhouse logs -n 0 --export logs.csv --export-format csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := logging.LogFilter{
				Level:     level,
				RunID:     runID,
				StateType: stateType,
				Component: component,
			}
			if level != "" && !slices.Contains(logging.ValidLevels(), strings.ToUpper(level)) {
				return fmt.Errorf("invalid --level %q: expected one of %v", level, logging.ValidLevels())
			}
			if since != "" {
				d, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid --since duration: %w", err)
				}
				filter.Since = time.Now().Add(-d)
			}
			var re *regexp.Regexp
			if grep != "" {
				var err error
				if re, err = regexp.Compile(grep); err != nil {
					return fmt.Errorf("invalid --grep pattern: %w", err)
				}
			}

			entries, err := logging.ReadLogs(filepath.Join(a.workDir, paths.RootDirName))
			if err != nil {
				return fmt.Errorf("failed to read logs: %w", err)
			}
			entries = logging.FilterLogs(entries, filter)
			if re != nil {
				entries = grepEntries(entries, re)
			}
			if tail > 0 && len(entries) > tail {
				entries = entries[len(entries)-tail:]
			}

			if export != "" {
				f, err := os.Create(export)
				if err != nil {
					return fmt.Errorf("failed to create export file: %w", err)
				}
				if err := logging.WriteLogs(f, entries, exportFormat); err != nil {
					_ = f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("failed to write export file: %w", err)
				}
				fmt.Fprintf(a.out, "Exported %d entries to %s\n", len(entries), export)
				return nil
			}

			return a.render(entries, func(w io.Writer) error {
				if len(entries) == 0 {
					fmt.Fprintln(w, mutedStyle.Render("No log entries"))
					return nil
				}
				for _, e := range entries {
					fmt.Fprintln(w, levelStyle(e.Level).Render(logging.FormatEntry(e)))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "minimum level (debug/info/warn/error)")
	cmd.Flags().StringVar(&runID, "run", "", "only entries for this run id")
	cmd.Flags().StringVar(&stateType, "type", "", "only entries for this state type")
	cmd.Flags().StringVar(&component, "component", "", "only entries from this component")
	cmd.Flags().StringVar(&since, "since", "", "only entries newer than this duration (e.g. 1h, 30m)")
	cmd.Flags().StringVar(&grep, "grep", "", "only entries whose message matches this regex")
	cmd.Flags().IntVarP(&tail, "tail", "n", 50, "number of entries to show (0 for all)")
	cmd.Flags().StringVar(&export, "export", "", "write entries to this file instead of stdout")
	cmd.Flags().StringVar(&exportFormat, "export-format", logging.ExportText, "export format: text, json or csv")
	return cmd
}

func grepEntries(entries []logging.LogEntry, re *regexp.Regexp) []logging.LogEntry {
	out := make([]logging.LogEntry, 0, len(entries))
	for _, e := range entries {
		if re.MatchString(e.Message) {
			out = append(out, e)
		}
	}
	return out
}

func levelStyle(level string) lipgloss.Style {
	switch level {
	case logging.LevelWarn:
		return warningStyle
	case logging.LevelError:
		return errorStyle
	case logging.LevelDebug:
		return mutedStyle
	default:
		return lipgloss.NewStyle()
	}
}
