// Package cmd implements the milhouse command line: run lifecycle, task
// inspection, snapshot history and legacy migration over a workspace's
// .milhouse directory.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/milhouse/internal/config"
	"github.com/Iron-Ham/milhouse/internal/errors"
	"github.com/Iron-Ham/milhouse/internal/paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Execute runs the root command. Canceling ctx aborts lock waits and retries.
func Execute(ctx context.Context) error {
	a := &app{}
	defer a.close()
	return newRootCmd(a).ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "milhouse",
		Short: "Run-scoped state store for milhouse workflows",
		Long: `Milhouse keeps the issues, tasks, dependency graph and executions of each
run in JSON files under .milhouse/, with per-run snapshot history and
safe concurrent updates.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	// Global flags
	root.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/milhouse/config.yaml)")
	root.PersistentFlags().StringVarP(&a.dir, "dir", "C", "", "workspace directory (default is the current directory)")
	root.PersistentFlags().StringVarP(&a.format, "format", "o", formatText, "output format: text, json or yaml")

	root.AddCommand(
		newRunCmd(a),
		newTaskCmd(a),
		newHistoryCmd(a),
		newMigrateCmd(a),
		newConfigCmd(a),
		newLogsCmd(a),
	)
	return root
}

func initConfig(cmd *cobra.Command, workDir string) error {
	viper.Reset()
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(filepath.Join(workDir, paths.RootDirName))
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/milhouse")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("MILHOUSE")
	// Replace dots with underscores for nested keys in env vars
	// e.g., MILHOUSE_HISTORY_MAX_SNAPSHOTS for history.max_snapshots
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicit --config must exist; search-path misses are fine
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

func workspaceDir(dir string) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		return cwd, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("invalid workspace directory %q: %w", dir, err)
	}
	return abs, nil
}
