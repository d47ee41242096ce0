// Package retry runs operations that may fail transiently, retrying them
// with capped exponential or linear backoff and recording every attempt.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Iron-Ham/milhouse/internal/config"
	"github.com/Iron-Ham/milhouse/internal/errors"
	"github.com/Iron-Ham/milhouse/internal/logging"
)

// Config controls an Executor.
type Config struct {
	// MaxAttempts counts the first attempt; values below 1 mean 1.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Strategy is config.StrategyExponential or config.StrategyLinear.
	Strategy string
	Jitter   bool
	// RetryablePatterns are case-insensitive substrings that mark an error
	// message as transient.
	RetryablePatterns []string
}

// FromConfig converts the retry section of the configuration.
func FromConfig(c config.RetryConfig) Config {
	return Config{
		MaxAttempts:       c.MaxAttempts,
		BaseDelay:         c.BaseDelay(),
		MaxDelay:          c.MaxDelay(),
		Strategy:          c.Strategy,
		Jitter:            c.Jitter,
		RetryablePatterns: c.RetryablePatterns,
	}
}

// DefaultConfig returns FromConfig of the default configuration.
func DefaultConfig() Config {
	return FromConfig(config.Default().Retry)
}

// Executor runs functions with retries.
type Executor struct {
	cfg     Config
	tracker *Tracker
	logger  *logging.Logger
}

// NewExecutor creates an Executor. A nil logger discards output.
func NewExecutor(cfg Config, logger *logging.Logger) *Executor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return &Executor{
		cfg:     cfg,
		tracker: NewTracker(),
		logger:  logging.OrNop(logger).WithComponent("retry"),
	}
}

// Tracker returns the executor's attempt tracker.
func (e *Executor) Tracker() *Tracker {
	return e.tracker
}

// IsRetryable reports whether err is worth another attempt: errors the
// store classifies as retryable (lock contention), or errors whose message
// contains one of the configured patterns. Context cancellation never is.
func (e *Executor) IsRetryable(err error) bool {
	return IsRetryable(err, e.cfg.RetryablePatterns)
}

// permanentErrors are store outcomes that another attempt cannot change.
var permanentErrors = []error{
	errors.ErrNotFound,
	errors.ErrRunNotFound,
	errors.ErrSnapshotNotFound,
	errors.ErrDependencyCycle,
	errors.ErrUnknownDependency,
	errors.ErrInvalidPhaseTransition,
	errors.ErrInvalidInput,
}

// IsRetryable classifies err against patterns.
func IsRetryable(err error, patterns []string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Store failures carry their own classification and are never
	// pattern-matched.
	var storeErr errors.StoreError
	if errors.As(err, &storeErr) {
		return storeErr.IsRetryable()
	}
	for _, sentinel := range permanentErrors {
		if errors.Is(err, sentinel) {
			return false
		}
	}
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if p != "" && strings.Contains(msg, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Do runs fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx is done. The final error wraps fn's last error.
func (e *Executor) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	e.tracker.Begin(key, e.cfg.MaxAttempts)
	logger := e.logger.With("key", key)

	attempts := 0
	op := func() error {
		attempts++
		err := fn(ctx)
		e.tracker.RecordAttempt(key, err)
		if err == nil {
			return nil
		}
		if !e.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("attempt failed, retrying",
			"attempt", attempts, "max_attempts", e.cfg.MaxAttempts, "wait", wait, "error", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(e.newBackOff(), uint64(e.cfg.MaxAttempts-1)), ctx)
	err := backoff.RetryNotify(op, b, notify)
	if err == nil {
		if attempts > 1 {
			logger.Info("succeeded after retry", "attempts", attempts)
		}
		return nil
	}
	logger.Error("giving up", "attempts", attempts, "error", err)
	return fmt.Errorf("%s failed after %d attempt(s): %w", key, attempts, err)
}

func (e *Executor) newBackOff() backoff.BackOff {
	if e.cfg.Strategy == config.StrategyLinear {
		return &linearBackOff{base: e.cfg.BaseDelay, max: e.cfg.MaxDelay, jitter: e.cfg.Jitter}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.BaseDelay
	b.MaxInterval = e.cfg.MaxDelay
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	if !e.cfg.Jitter {
		b.RandomizationFactor = 0
	}
	b.Reset()
	return b
}

// linearBackOff waits base, 2*base, 3*base... capped at max. With jitter
// each wait is scaled by a random factor in [0.5, 1.5).
type linearBackOff struct {
	base, max time.Duration
	jitter    bool
	n         int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.n++
	d := min(time.Duration(l.n)*l.base, l.max)
	if l.jitter && d > 0 {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()))
	}
	return d
}

func (l *linearBackOff) Reset() {
	l.n = 0
}
