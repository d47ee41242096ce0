package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Iron-Ham/milhouse/internal/config"
	"github.com/Iron-Ham/milhouse/internal/errors"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:       attempts,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		Strategy:          config.StrategyExponential,
		RetryablePatterns: config.DefaultRetryablePatterns(),
	}
}

func TestIsRetryable(t *testing.T) {
	patterns := config.DefaultRetryablePatterns()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"lock error", errors.NewLockError("/x.lock", time.Second), true},
		{"wrapped lock error", fmt.Errorf("update: %w", errors.NewLockError("/x.lock", time.Second)), true},
		{"rate limit message", fmt.Errorf("API returned: Rate Limit exceeded"), true},
		{"status code", fmt.Errorf("upstream 503"), true},
		{"reset", fmt.Errorf("read tcp: ECONNRESET"), true},
		{"validation", errors.NewValidationError("bad record"), false},
		{"plain", fmt.Errorf("file not found"), false},
		{"run not found with numeric id", fmt.Errorf("select run 20261018-150312: %w", errors.ErrRunNotFound), false},
		{"invalid input mentioning timeout", fmt.Errorf("timeout must be positive: %w", errors.ErrInvalidInput), false},
		{"canceled", context.Canceled, false},
		{"deadline with timeout text", fmt.Errorf("timeout: %w", context.DeadlineExceeded), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err, patterns); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestExecutor_RetriesUntilSuccess(t *testing.T) {
	e := NewExecutor(fastConfig(3), nil)
	calls := 0
	err := e.Do(context.Background(), "task-1", func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("request timed out")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}

	state, ok := e.Tracker().Get("task-1")
	if !ok {
		t.Fatal("state not tracked")
	}
	if state.Attempts != 3 || !state.Succeeded || state.LastError != "" {
		t.Errorf("state = %+v", state)
	}
	if got := e.Tracker().Succeeded(); len(got) != 1 || got[0] != "task-1" {
		t.Errorf("Succeeded() = %v", got)
	}
}

func TestExecutor_StopsAtMaxAttempts(t *testing.T) {
	e := NewExecutor(fastConfig(3), nil)
	calls := 0
	cause := fmt.Errorf("HTTP 429 too many requests")
	err := e.Do(context.Background(), "task-2", func(context.Context) error {
		calls++
		return cause
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Do() = %v, want wrapped cause", err)
	}
	if failed := e.Tracker().Failed(); len(failed) != 1 || failed[0] != "task-2" {
		t.Errorf("Failed() = %v", failed)
	}
	if e.Tracker().ShouldRetry("task-2") {
		t.Error("ShouldRetry() = true after exhausting attempts")
	}
}

func TestExecutor_PermanentErrorStopsImmediately(t *testing.T) {
	e := NewExecutor(fastConfig(5), nil)
	calls := 0
	err := e.Do(context.Background(), "task-3", func(context.Context) error {
		calls++
		return errors.NewValidationError("bad input")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, errors.ErrValidation) {
		t.Errorf("Do() = %v, want validation error", err)
	}
}

func TestExecutor_ContextCanceled(t *testing.T) {
	cfg := fastConfig(10)
	cfg.BaseDelay = time.Second
	cfg.MaxDelay = time.Second
	e := NewExecutor(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := e.Do(ctx, "task-4", func(context.Context) error {
		calls++
		cancel()
		return fmt.Errorf("connection reset by peer")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecutor_MinimumOneAttempt(t *testing.T) {
	e := NewExecutor(Config{}, nil)
	calls := 0
	_ = e.Do(context.Background(), "k", func(context.Context) error {
		calls++
		return fmt.Errorf("timeout")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestLinearBackOff(t *testing.T) {
	b := &linearBackOff{base: 10 * time.Millisecond, max: 25 * time.Millisecond}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond, 25 * time.Millisecond}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Errorf("NextBackOff() #%d = %v, want %v", i+1, got, w)
		}
	}
	b.Reset()
	if got := b.NextBackOff(); got != want[0] {
		t.Errorf("after Reset NextBackOff() = %v, want %v", got, want[0])
	}

	j := &linearBackOff{base: 100 * time.Millisecond, max: time.Second, jitter: true}
	for range 20 {
		j.Reset()
		if d := j.NextBackOff(); d < 50*time.Millisecond || d >= 150*time.Millisecond {
			t.Fatalf("jittered delay %v outside [50ms, 150ms)", d)
		}
	}
}

func TestFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxAttempts != 3 || cfg.BaseDelay != time.Second || cfg.MaxDelay != 30*time.Second {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
	if cfg.Strategy != config.StrategyExponential || !cfg.Jitter {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
}
