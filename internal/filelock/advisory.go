package filelock

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Iron-Ham/milhouse/internal/errors"
	"github.com/Iron-Ham/milhouse/internal/fsutil"
	"github.com/Iron-Ham/milhouse/internal/logging"
)

// LockSuffix is appended to a target path to form its lock file path.
const LockSuffix = ".lock"

// errBusy signals a live lock held by someone else; it is retried.
var errBusy = errors.New("lock held by another owner")

// Options configures lock acquisition.
type Options struct {
	// Retries is how many times acquisition is retried after the first attempt.
	Retries int
	// Stale is the lock file age after which it is presumed abandoned.
	Stale time.Duration
	// MinWait and MaxWait bound the exponential backoff between attempts.
	MinWait time.Duration
	MaxWait time.Duration
	// Queue overrides the in-process queue used by Manager.
	Queue *Queue
	// Logger receives reclaim and release diagnostics. Nil discards them.
	Logger *logging.Logger
}

// DefaultOptions returns the stock acquisition settings.
func DefaultOptions() Options {
	return Options{
		Retries: 10,
		Stale:   10 * time.Second,
		MinWait: 50 * time.Millisecond,
		MaxWait: time.Second,
	}
}

// Owner is the content of a lock file.
type Owner struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Advisory acquires cross-process lock files.
type Advisory struct {
	opts     Options
	hostname string
	logger   *logging.Logger
}

// NewAdvisory creates an Advisory with the given options. Zero durations
// fall back to DefaultOptions.
func NewAdvisory(opts Options) *Advisory {
	def := DefaultOptions()
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Stale <= 0 {
		opts.Stale = def.Stale
	}
	if opts.MinWait <= 0 {
		opts.MinWait = def.MinWait
	}
	if opts.MaxWait < opts.MinWait {
		opts.MaxWait = opts.MinWait
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Advisory{
		opts:     opts,
		hostname: hostname,
		logger:   logging.OrNop(opts.Logger).WithComponent("filelock"),
	}
}

// LockPath returns the lock file path for target.
func LockPath(target string) string {
	return target + LockSuffix
}

// ReadOwner reads the owner recorded in a lock file.
func ReadOwner(lockPath string) (*Owner, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	var owner Owner
	if err := json.Unmarshal(data, &owner); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	return &owner, nil
}

// Handle is a held advisory lock.
type Handle struct {
	path   string
	owner  Owner
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger *logging.Logger
}

// Path returns the lock file path.
func (h *Handle) Path() string {
	return h.path
}

// Owner returns the owner record written for this handle.
func (h *Handle) Owner() Owner {
	return h.owner
}

// Lock acquires the lock for target, creating an empty placeholder target
// when none exists. It retries with exponential backoff up to Retries times
// and returns a *errors.LockError on failure.
func (a *Advisory) Lock(ctx context.Context, target string) (*Handle, error) {
	if err := fsutil.EnsureFile(target); err != nil {
		return nil, errors.NewWriteError(target, err)
	}

	lockPath := LockPath(target)
	start := time.Now()
	attempts := 0
	var handle *Handle

	op := func() error {
		attempts++
		h, err := a.tryAcquire(lockPath)
		if err != nil {
			if err == errBusy {
				return err
			}
			return backoff.Permanent(err)
		}
		handle = h
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.opts.MinWait
	bo.MaxInterval = a.opts.MaxWait
	bo.MaxElapsedTime = 0 // bounded by retry count instead
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(a.opts.Retries)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		lockErr := errors.NewLockError(lockPath, time.Since(start)).WithAttempts(attempts)
		switch {
		case ctx.Err() != nil:
			lockErr = lockErr.WithCause(ctx.Err())
		case err != errBusy:
			lockErr = lockErr.WithCause(err)
		}
		return nil, lockErr
	}

	handle.startHeartbeat(a.opts.Stale / 2)
	return handle, nil
}

// tryAcquire makes one attempt, reclaiming a stale lock at most once.
func (a *Advisory) tryAcquire(lockPath string) (*Handle, error) {
	for reclaimed := false; ; reclaimed = true {
		owner := Owner{
			PID:        os.Getpid(),
			Hostname:   a.hostname,
			AcquiredAt: time.Now().UTC(),
		}
		data, err := json.Marshal(owner)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal lock: %w", err)
		}

		// O_EXCL fails if another owner created the file first
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := f.Write(data)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(lockPath)
				return nil, fmt.Errorf("failed to write lock file: %w", errors.Join(werr, cerr))
			}
			return &Handle{
				path:   lockPath,
				owner:  owner,
				stop:   make(chan struct{}),
				logger: a.logger,
			}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		if reclaimed || !a.reclaimIfStale(lockPath) {
			return nil, errBusy
		}
	}
}

// reclaimIfStale removes lockPath when it is older than the stale window or
// its owner is a dead process on this host.
func (a *Advisory) reclaimIfStale(lockPath string) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		// Vanished between create and stat: let the caller retry at once
		return os.IsNotExist(err)
	}

	reason := ""
	age := time.Since(info.ModTime())
	if age > a.opts.Stale {
		reason = fmt.Sprintf("older than %s", a.opts.Stale)
	} else if owner, err := ReadOwner(lockPath); err == nil &&
		owner.Hostname == a.hostname && owner.PID != os.Getpid() && !processAlive(owner.PID) {
		reason = fmt.Sprintf("owner pid %d is not running", owner.PID)
	}
	if reason == "" {
		return false
	}

	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		a.logger.Warn("failed to remove stale lock", "path", lockPath, "error", err)
		return false
	}
	a.logger.Warn("stale lock reclaimed", "path", lockPath, "reason", reason, "age", age.String())
	return true
}

func (h *Handle) startHeartbeat(interval time.Duration) {
	if interval <= 0 {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				now := time.Now()
				if err := os.Chtimes(h.path, now, now); err != nil {
					h.logger.Warn("failed to refresh lock", "path", h.path, "error", err)
				}
			}
		}
	}()
}

// Unlock stops the heartbeat and removes the lock file if this handle still
// owns it. Safe to call multiple times.
func (h *Handle) Unlock() error {
	var err error
	h.once.Do(func() {
		close(h.stop)
		h.wg.Wait()

		current, readErr := ReadOwner(h.path)
		if readErr != nil {
			// Already gone (or unreadable): nothing we own remains
			return
		}
		if current.PID != h.owner.PID || !current.AcquiredAt.Equal(h.owner.AcquiredAt) {
			h.logger.Warn("lock was reclaimed by another owner before release",
				"path", h.path, "owner_pid", current.PID)
			return
		}
		if rmErr := os.Remove(h.path); rmErr != nil && !os.IsNotExist(rmErr) {
			err = fmt.Errorf("failed to remove lock file: %w", rmErr)
		}
	})
	return err
}

// WithLock runs fn while holding the advisory lock for target. The lock is
// released when fn returns or panics; a release failure is returned only if
// fn succeeded.
func (a *Advisory) WithLock(ctx context.Context, target string, fn func() error) (err error) {
	h, err := a.Lock(ctx, target)
	if err != nil {
		return err
	}
	defer func() {
		if uerr := h.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}()
	return fn()
}
