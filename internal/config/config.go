package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete milhouse configuration
type Config struct {
	History HistoryConfig `mapstructure:"history" yaml:"history" json:"history"`
	Locks   LockConfig    `mapstructure:"locks" yaml:"locks" json:"locks"`
	Runs    RunsConfig    `mapstructure:"runs" yaml:"runs" json:"runs"`
	Retry   RetryConfig   `mapstructure:"retry" yaml:"retry" json:"retry"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`
}

// HistoryConfig controls state snapshots
type HistoryConfig struct {
	// Enabled turns snapshot writing on. When false, snapshot calls return
	// metadata but write nothing (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	// MaxSnapshots is the retention cap per run and state type (default: 50)
	MaxSnapshots int `mapstructure:"max_snapshots" yaml:"max_snapshots" json:"max_snapshots"`
}

// LockConfig controls the cross-process advisory file lock
type LockConfig struct {
	// Retries is how many times acquisition is retried before failing (default: 10)
	Retries int `mapstructure:"retries" yaml:"retries" json:"retries"`
	// StaleMs is the age in milliseconds after which a lock file is presumed
	// abandoned and reclaimed (default: 10000)
	StaleMs int `mapstructure:"stale_ms" yaml:"stale_ms" json:"stale_ms"`
	// MinWaitMs is the initial retry delay in milliseconds (default: 50)
	MinWaitMs int `mapstructure:"min_wait_ms" yaml:"min_wait_ms" json:"min_wait_ms"`
	// MaxWaitMs caps the retry delay in milliseconds (default: 1000)
	MaxWaitMs int `mapstructure:"max_wait_ms" yaml:"max_wait_ms" json:"max_wait_ms"`
}

// RunsConfig controls run lifecycle behavior
type RunsConfig struct {
	// StrictPhases rejects phase changes that do not follow
	// scan -> validate -> plan -> exec -> verify -> completed (default: false)
	StrictPhases bool `mapstructure:"strict_phases" yaml:"strict_phases" json:"strict_phases"`
	// KeepLast is the default number of recent runs kept by cleanup (default: 10)
	KeepLast int `mapstructure:"keep_last" yaml:"keep_last" json:"keep_last"`
	// MaxAgeDays is the default age after which cleanup deletes runs, 0 = no age limit (default: 30)
	MaxAgeDays int `mapstructure:"max_age_days" yaml:"max_age_days" json:"max_age_days"`
}

// RetryConfig controls retry of external operations such as agent commands
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first (default: 3)
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	// BaseDelayMs is the delay before the first retry (default: 1000)
	BaseDelayMs int `mapstructure:"base_delay_ms" yaml:"base_delay_ms" json:"base_delay_ms"`
	// MaxDelayMs caps the delay between attempts (default: 30000)
	MaxDelayMs int `mapstructure:"max_delay_ms" yaml:"max_delay_ms" json:"max_delay_ms"`
	// Strategy is "exponential" or "linear" (default: "exponential")
	Strategy string `mapstructure:"strategy" yaml:"strategy" json:"strategy"`
	// Jitter randomizes delays to avoid synchronized retries (default: true)
	Jitter bool `mapstructure:"jitter" yaml:"jitter" json:"jitter"`
	// RetryablePatterns are case-insensitive substrings that mark an error message retryable
	RetryablePatterns []string `mapstructure:"retryable_patterns" yaml:"retryable_patterns" json:"retryable_patterns"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logs go to .milhouse/debug.log; when false they go to stderr (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level" json:"level"`
	// MaxSizeMB rotates debug.log once it reaches this size; 0 disables rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb" json:"max_size_mb"`
	// MaxBackups is the number of rotated files kept (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups" json:"max_backups"`
	// Compress gzips rotated files (default: false)
	Compress bool `mapstructure:"compress" yaml:"compress" json:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		History: HistoryConfig{
			Enabled:      true,
			MaxSnapshots: 50,
		},
		Locks: LockConfig{
			Retries:   10,
			StaleMs:   10000,
			MinWaitMs: 50,
			MaxWaitMs: 1000,
		},
		Runs: RunsConfig{
			StrictPhases: false,
			KeepLast:     10,
			MaxAgeDays:   30,
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			BaseDelayMs:       1000,
			MaxDelayMs:        30000,
			Strategy:          StrategyExponential,
			Jitter:            true,
			RetryablePatterns: DefaultRetryablePatterns(),
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Retry strategies
const (
	StrategyExponential = "exponential"
	StrategyLinear      = "linear"
)

// DefaultRetryablePatterns returns the error message fragments treated as transient.
func DefaultRetryablePatterns() []string {
	return []string{
		"timeout",
		"timed out",
		"rate limit",
		"econnreset",
		"connection reset",
		"temporarily unavailable",
		"503",
		"429",
	}
}

// Stale returns the stale-lock window as a time.Duration
func (c *LockConfig) Stale() time.Duration {
	return time.Duration(c.StaleMs) * time.Millisecond
}

// MinWait returns the initial retry delay as a time.Duration
func (c *LockConfig) MinWait() time.Duration {
	return time.Duration(c.MinWaitMs) * time.Millisecond
}

// MaxWait returns the retry delay cap as a time.Duration
func (c *LockConfig) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

// MaxAge returns the cleanup age threshold (0 means no age limit)
func (c *RunsConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeDays) * 24 * time.Hour
}

// BaseDelay returns the first retry delay as a time.Duration
func (c *RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the retry delay cap as a time.Duration
func (c *RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// History defaults
	viper.SetDefault("history.enabled", defaults.History.Enabled)
	viper.SetDefault("history.max_snapshots", defaults.History.MaxSnapshots)

	// Lock defaults
	viper.SetDefault("locks.retries", defaults.Locks.Retries)
	viper.SetDefault("locks.stale_ms", defaults.Locks.StaleMs)
	viper.SetDefault("locks.min_wait_ms", defaults.Locks.MinWaitMs)
	viper.SetDefault("locks.max_wait_ms", defaults.Locks.MaxWaitMs)

	// Runs defaults
	viper.SetDefault("runs.strict_phases", defaults.Runs.StrictPhases)
	viper.SetDefault("runs.keep_last", defaults.Runs.KeepLast)
	viper.SetDefault("runs.max_age_days", defaults.Runs.MaxAgeDays)

	// Retry defaults
	viper.SetDefault("retry.max_attempts", defaults.Retry.MaxAttempts)
	viper.SetDefault("retry.base_delay_ms", defaults.Retry.BaseDelayMs)
	viper.SetDefault("retry.max_delay_ms", defaults.Retry.MaxDelayMs)
	viper.SetDefault("retry.strategy", defaults.Retry.Strategy)
	viper.SetDefault("retry.jitter", defaults.Retry.Jitter)
	viper.SetDefault("retry.retryable_patterns", defaults.Retry.RetryablePatterns)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "milhouse")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".milhouse"
	}
	return filepath.Join(home, ".config", "milhouse")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidStrategies returns the list of valid retry strategies
func ValidStrategies() []string {
	return []string{StrategyExponential, StrategyLinear}
}
