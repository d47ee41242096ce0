package cmd

import (
	"fmt"
	"io"

	"github.com/Iron-Ham/milhouse/internal/migrate"
	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	var opts migrate.Options
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Move legacy .milhouse/state files into a new run",
		Long: `Create a run and copy the legacy flat .milhouse/state files and their
snapshot history into it. The new run becomes current.

Files that are not JSON arrays are skipped and left in place. With
--delete-legacy, the legacy directory is removed once every file was copied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !migrate.NeedsMigration(a.workDir) {
				fmt.Fprintln(a.out, "Nothing to migrate")
				return nil
			}
			opts.Logger = a.logger
			res, err := migrate.Migrate(cmd.Context(), a.runs, opts)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			return a.render(res, func(w io.Writer) error {
				if res.DryRun {
					fmt.Fprintln(w, headerStyle.Render("Dry run: nothing was written"))
				} else {
					fmt.Fprintf(w, "Migrated into run %s\n", headerStyle.Render(res.RunID))
				}
				for _, key := range res.Copied {
					fmt.Fprintf(w, "  %s %s\n", successStyle.Render("copied "), key)
				}
				for _, s := range res.Skipped {
					fmt.Fprintf(w, "  %s %s %s\n", warningStyle.Render("skipped"), s.Key, mutedStyle.Render("("+s.Reason+")"))
				}
				if res.HistoryFiles > 0 {
					fmt.Fprintf(w, "  %d snapshot file(s) copied\n", res.HistoryFiles)
				}
				if res.LegacyDeleted {
					fmt.Fprintln(w, "Legacy state directory removed")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", migrate.DefaultRunName, "name of the new run")
	cmd.Flags().BoolVar(&opts.DeleteLegacy, "delete-legacy", false, "remove the legacy state directory after copying")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "show what would be copied without writing")
	return cmd
}
