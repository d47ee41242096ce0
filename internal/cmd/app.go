package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/Iron-Ham/milhouse/internal/config"
	"github.com/Iron-Ham/milhouse/internal/errors"
	"github.com/Iron-Ham/milhouse/internal/filelock"
	"github.com/Iron-Ham/milhouse/internal/history"
	"github.com/Iron-Ham/milhouse/internal/logging"
	"github.com/Iron-Ham/milhouse/internal/paths"
	"github.com/Iron-Ham/milhouse/internal/retry"
	"github.com/Iron-Ham/milhouse/internal/run"
	"github.com/Iron-Ham/milhouse/internal/state"
	"github.com/spf13/cobra"
)

// app holds the stores built for one invocation.
type app struct {
	// Flag values
	dir    string
	format string

	workDir string
	cfg     *config.Config
	logger  *logging.Logger
	runs    *run.Registry
	store   *state.Store
	history *history.Store
	retry   *retry.Executor
	out     io.Writer
}

func (a *app) init(cmd *cobra.Command) error {
	if !validFormat(a.format) {
		return fmt.Errorf("invalid --format %q: expected text, json or yaml", a.format)
	}

	workDir, err := workspaceDir(a.dir)
	if err != nil {
		return err
	}
	a.workDir = workDir
	a.out = cmd.OutOrStdout()

	if err := initConfig(cmd, workDir); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	logDir := ""
	if cfg.Logging.Enabled {
		logDir = filepath.Join(workDir, paths.RootDirName)
	}
	logger, err := logging.NewRotatingLogger(logDir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	a.logger = logger.With("command", cmd.CommandPath())

	locks := filelock.Options{
		Retries: cfg.Locks.Retries,
		Stale:   cfg.Locks.Stale(),
		MinWait: cfg.Locks.MinWait(),
		MaxWait: cfg.Locks.MaxWait(),
		Logger:  a.logger,
	}
	a.runs = run.New(workDir, run.Options{
		Logger:       a.logger,
		Locks:        locks,
		StrictPhases: cfg.Runs.StrictPhases,
	})
	a.store = state.New(workDir, state.Options{
		Logger: a.logger,
		Locks:  locks,
		Runs:   a.runs,
	})
	a.history = history.New(workDir, history.Options{
		Disabled:     !cfg.History.Enabled,
		MaxSnapshots: cfg.History.MaxSnapshots,
		Locks:        locks,
		Logger:       a.logger,
	})
	a.retry = retry.NewExecutor(retry.FromConfig(cfg.Retry), a.logger)
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// mutate runs a state-changing operation, retrying lock contention and
// transient failures per the retry config.
func (a *app) mutate(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return a.retry.Do(ctx, key, fn)
}

// runID resolves the --run flag, falling back to the current run. An empty
// result with a nil error selects the legacy layout.
func (a *app) runID(ctx context.Context, flag string) (string, error) {
	if flag != "" {
		ok, err := a.runs.RunExists(ctx, flag)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", errors.NewNotFoundError("run", flag).WithCause(errors.ErrRunNotFound)
		}
		return flag, nil
	}
	return a.runs.CurrentRunID(ctx)
}

// requireRun is runID for commands that cannot use the legacy layout.
func (a *app) requireRun(ctx context.Context, flag string) (string, error) {
	id, err := a.runID(ctx, flag)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("no current run: pass --run or select one with 'milhouse run use'")
	}
	return id, nil
}

func parseKey(s string) (paths.FileKey, error) {
	key := paths.FileKey(s)
	if !key.IsCollection() {
		return "", fmt.Errorf("unknown state type %q: expected one of %v", s, paths.CollectionKeys)
	}
	return key, nil
}
