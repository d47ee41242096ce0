package filelock

import (
	"context"
	"sync"
)

// Queue is a keyed FIFO mutex. The zero value is not usable; call NewQueue.
type Queue struct {
	mu    sync.Mutex
	tails map[string]*ticket // key -> most recent waiter
}

// ticket is one place in a key's chain. done is closed when the holder
// releases (or, for a canceled waiter, when its predecessor releases).
type ticket struct {
	done chan struct{}
}

var sharedQueue = NewQueue()

// SharedQueue returns the process-wide queue used by managers that are not
// given one explicitly, so stores created independently still serialize on
// the same files.
func SharedQueue() *Queue {
	return sharedQueue
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{tails: make(map[string]*ticket)}
}

// Acquire waits for every earlier caller of key to release, then returns a
// release function. The release function is idempotent.
//
// If ctx is canceled while waiting, Acquire returns ctx.Err(). The canceled
// caller keeps its place in the chain until its predecessor releases, so
// later callers are still served in arrival order.
func (q *Queue) Acquire(ctx context.Context, key string) (func(), error) {
	me := &ticket{done: make(chan struct{})}

	q.mu.Lock()
	prev := q.tails[key]
	q.tails[key] = me
	q.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(me.done)
			q.mu.Lock()
			if q.tails[key] == me {
				delete(q.tails, key)
			}
			q.mu.Unlock()
		})
	}

	if prev == nil {
		return release, nil
	}

	select {
	case <-prev.done:
		return release, nil
	case <-ctx.Done():
		go func() {
			<-prev.done
			release()
		}()
		return nil, ctx.Err()
	}
}

// Do runs fn while holding the lock for key. The lock is released when fn
// returns or panics.
func (q *Queue) Do(ctx context.Context, key string, fn func() error) error {
	release, err := q.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Len returns the number of keys that currently have a holder or waiters.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}
