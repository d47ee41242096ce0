package filelock

import (
	"context"
)

// Manager pairs the in-process queue with the cross-process advisory lock.
type Manager struct {
	queue    *Queue
	advisory *Advisory
}

// NewManager creates a Manager. Without opts.Queue it uses SharedQueue.
func NewManager(opts Options) *Manager {
	q := opts.Queue
	if q == nil {
		q = SharedQueue()
	}
	return &Manager{
		queue:    q,
		advisory: NewAdvisory(opts),
	}
}

// Exclusive runs fn holding the queue lock for path and then the advisory
// lock on path, so it excludes goroutines of this process and other
// processes alike.
func (m *Manager) Exclusive(ctx context.Context, path string, fn func() error) error {
	return m.queue.Do(ctx, path, func() error {
		return m.advisory.WithLock(ctx, path, fn)
	})
}

// Serialize runs fn holding only the queue lock for path.
func (m *Manager) Serialize(ctx context.Context, path string, fn func() error) error {
	return m.queue.Do(ctx, path, fn)
}

// Queue returns the in-process queue.
func (m *Manager) Queue() *Queue {
	return m.queue
}

// Advisory returns the cross-process lock.
func (m *Manager) Advisory() *Advisory {
	return m.advisory
}
