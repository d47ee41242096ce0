package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/milhouse/internal/config"
	"github.com/Iron-Ham/milhouse/internal/paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View milhouse configuration",
		Long: `View milhouse configuration.

Without arguments, displays the effective configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.showConfig()
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.showConfig()
			},
		},
		&cobra.Command{
			Use:   "init",
			Short: "Write the default configuration to the user config file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.initConfigFile()
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show the config file path and search paths",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.showConfigPath()
			},
		},
	)
	return cmd
}

func (a *app) showConfig() error {
	return a.render(a.cfg, func(w io.Writer) error {
		// Show where config is being read from
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintf(w, "Config file: %s\n", used)
		} else {
			fmt.Fprintln(w, "Config file: (none - using defaults)")
		}
		fmt.Fprintln(w)

		data, err := yaml.Marshal(a.cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, err = w.Write(data)
		return err
	})
}

func (a *app) initConfigFile() error {
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}
	if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	content := "# Milhouse configuration\n# Environment variables override these values: MILHOUSE_<SECTION>_<KEY>\n\n" + string(data)
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(a.out, "Created config file at %s\n", configFile)
	return nil
}

func (a *app) showConfigPath() error {
	w := a.out
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(w, "Active config: %s\n", used)
	} else {
		fmt.Fprintf(w, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(w, "\nSearch paths:")
	fmt.Fprintf(w, "  1. %s\n", filepath.Join(a.workDir, paths.RootDirName, "config.yaml"))
	fmt.Fprintf(w, "  2. %s\n", config.ConfigFile())
	fmt.Fprintf(w, "  3. $HOME/.config/milhouse/config.yaml\n")
	fmt.Fprintln(w, "\nEnvironment variables: MILHOUSE_* (e.g., MILHOUSE_HISTORY_MAX_SNAPSHOTS)")
	return nil
}
