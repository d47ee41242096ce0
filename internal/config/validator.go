package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "locks.stale_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateHistory()...)
	errors = append(errors, c.validateLocks()...)
	errors = append(errors, c.validateRuns()...)
	errors = append(errors, c.validateRetry()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateHistory validates the HistoryConfig
func (c *Config) validateHistory() []ValidationError {
	var errors []ValidationError

	// Zero would prune every snapshot immediately after writing it
	if c.History.MaxSnapshots < 1 {
		errors = append(errors, ValidationError{
			Field:   "history.max_snapshots",
			Value:   c.History.MaxSnapshots,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateLocks validates the LockConfig
func (c *Config) validateLocks() []ValidationError {
	var errors []ValidationError

	if c.Locks.Retries < 0 {
		errors = append(errors, ValidationError{
			Field:   "locks.retries",
			Value:   c.Locks.Retries,
			Message: "must be non-negative",
		})
	}

	if c.Locks.StaleMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "locks.stale_ms",
			Value:   c.Locks.StaleMs,
			Message: "must be positive",
		})
	}

	if c.Locks.MinWaitMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "locks.min_wait_ms",
			Value:   c.Locks.MinWaitMs,
			Message: "must be positive",
		})
	}

	if c.Locks.MaxWaitMs < c.Locks.MinWaitMs {
		errors = append(errors, ValidationError{
			Field:   "locks.max_wait_ms",
			Value:   c.Locks.MaxWaitMs,
			Message: fmt.Sprintf("must be at least locks.min_wait_ms (%d)", c.Locks.MinWaitMs),
		})
	}

	return errors
}

// validateRuns validates the RunsConfig
func (c *Config) validateRuns() []ValidationError {
	var errors []ValidationError

	if c.Runs.KeepLast < 0 {
		errors = append(errors, ValidationError{
			Field:   "runs.keep_last",
			Value:   c.Runs.KeepLast,
			Message: "must be non-negative",
		})
	}

	if c.Runs.MaxAgeDays < 0 {
		errors = append(errors, ValidationError{
			Field:   "runs.max_age_days",
			Value:   c.Runs.MaxAgeDays,
			Message: "must be non-negative (0 disables the age limit)",
		})
	}

	return errors
}

// validateRetry validates the RetryConfig
func (c *Config) validateRetry() []ValidationError {
	var errors []ValidationError

	if c.Retry.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "retry.max_attempts",
			Value:   c.Retry.MaxAttempts,
			Message: "must be at least 1",
		})
	}

	if c.Retry.BaseDelayMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "retry.base_delay_ms",
			Value:   c.Retry.BaseDelayMs,
			Message: "must be non-negative",
		})
	}

	if c.Retry.MaxDelayMs < c.Retry.BaseDelayMs {
		errors = append(errors, ValidationError{
			Field:   "retry.max_delay_ms",
			Value:   c.Retry.MaxDelayMs,
			Message: fmt.Sprintf("must be at least retry.base_delay_ms (%d)", c.Retry.BaseDelayMs),
		})
	}

	if !slices.Contains(ValidStrategies(), c.Retry.Strategy) {
		errors = append(errors, ValidationError{
			Field:   "retry.strategy",
			Value:   c.Retry.Strategy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStrategies(), ", ")),
		})
	}

	for i, p := range c.Retry.RetryablePatterns {
		if strings.TrimSpace(p) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("retry.retryable_patterns[%d]", i),
				Value:   p,
				Message: "must not be empty",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
