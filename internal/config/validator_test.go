package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("Default config should be valid, got errors: %v", errs)
	}
}

func hasFieldError(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestConfig_Validate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero max snapshots", func(c *Config) { c.History.MaxSnapshots = 0 }, "history.max_snapshots"},
		{"negative lock retries", func(c *Config) { c.Locks.Retries = -1 }, "locks.retries"},
		{"zero stale window", func(c *Config) { c.Locks.StaleMs = 0 }, "locks.stale_ms"},
		{"zero min wait", func(c *Config) { c.Locks.MinWaitMs = 0 }, "locks.min_wait_ms"},
		{"max wait below min wait", func(c *Config) { c.Locks.MaxWaitMs = 10 }, "locks.max_wait_ms"},
		{"negative keep last", func(c *Config) { c.Runs.KeepLast = -1 }, "runs.keep_last"},
		{"negative max age", func(c *Config) { c.Runs.MaxAgeDays = -3 }, "runs.max_age_days"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"negative base delay", func(c *Config) { c.Retry.BaseDelayMs = -5 }, "retry.base_delay_ms"},
		{"max delay below base", func(c *Config) { c.Retry.MaxDelayMs = 10 }, "retry.max_delay_ms"},
		{"unknown strategy", func(c *Config) { c.Retry.Strategy = "random" }, "retry.strategy"},
		{"empty pattern", func(c *Config) { c.Retry.RetryablePatterns = []string{"timeout", " "} }, "retry.retryable_patterns[1]"},
		{"invalid log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"negative log size", func(c *Config) { c.Logging.MaxSizeMB = -1 }, "logging.max_size_mb"},
		{"negative log backups", func(c *Config) { c.Logging.MaxBackups = -2 }, "logging.max_backups"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if !hasFieldError(errs, tt.field) {
				t.Errorf("expected error for %s, got %v", tt.field, errs)
			}
		})
	}
}

func TestConfig_Validate_Logging(t *testing.T) {
	t.Run("valid log levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error", ""} {
			cfg := Default()
			cfg.Logging.Level = level
			if hasFieldError(cfg.Validate(), "logging.level") {
				t.Errorf("level %q should be valid", level)
			}
		}
	})

	t.Run("case sensitive log level", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.Level = "INFO"
		if !hasFieldError(cfg.Validate(), "logging.level") {
			t.Error("expected error for uppercase log level")
		}
	})
}

func TestConfig_Validate_ZeroAgeAllowed(t *testing.T) {
	cfg := Default()
	cfg.Runs.MaxAgeDays = 0
	cfg.Runs.KeepLast = 0
	cfg.Locks.Retries = 0
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("zero values that disable limits should be valid, got %v", errs)
	}
}

func TestConfig_Validate_CollectsAll(t *testing.T) {
	cfg := Default()
	cfg.History.MaxSnapshots = 0
	cfg.Retry.Strategy = "nope"
	cfg.Logging.Level = "loud"

	errs := cfg.Validate()
	if len(errs) != 3 {
		t.Errorf("Validate() returned %d errors, want 3: %v", len(errs), errs)
	}
}
