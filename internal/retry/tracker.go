package retry

import (
	"slices"
	"sync"
)

// KeyState tracks the attempts made for one key.
type KeyState struct {
	Key         string `json:"key"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	LastError   string `json:"last_error,omitempty"`
	Succeeded   bool   `json:"succeeded,omitempty"`
}

// Tracker records attempts per key for auditing.
// It is safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	states map[string]*KeyState
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		states: make(map[string]*KeyState),
	}
}

// Begin returns the state for key, creating it with maxAttempts if needed.
// An existing state keeps its original limit.
func (t *Tracker) Begin(key string, maxAttempts int) KeyState {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[key]
	if !ok {
		state = &KeyState{Key: key, MaxAttempts: maxAttempts}
		t.states[key] = state
	}
	return *state
}

// Get returns the state for key.
func (t *Tracker) Get(key string) (KeyState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state, ok := t.states[key]
	if !ok {
		return KeyState{}, false
	}
	return *state, true
}

// RecordAttempt counts an attempt for key. A nil err marks the key as
// succeeded. Unknown keys are ignored.
func (t *Tracker) RecordAttempt(key string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[key]
	if !ok {
		return
	}
	state.Attempts++
	if err == nil {
		state.Succeeded = true
		state.LastError = ""
		return
	}
	state.LastError = err.Error()
}

// ShouldRetry reports whether key has attempts left and has not succeeded.
func (t *Tracker) ShouldRetry(key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state, ok := t.states[key]
	if !ok {
		return false
	}
	return !state.Succeeded && state.Attempts < state.MaxAttempts
}

// Failed returns the keys that used every attempt without succeeding.
func (t *Tracker) Failed() []string {
	return t.keys(func(s *KeyState) bool { return !s.Succeeded && s.Attempts >= s.MaxAttempts })
}

// Succeeded returns the keys whose last attempt succeeded.
func (t *Tracker) Succeeded() []string {
	return t.keys(func(s *KeyState) bool { return s.Succeeded })
}

func (t *Tracker) keys(match func(*KeyState) bool) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	for key, state := range t.states {
		if match(state) {
			out = append(out, key)
		}
	}
	slices.Sort(out)
	return out
}

// Reset forgets key.
func (t *Tracker) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.states, key)
}

// States returns a copy of every tracked state.
func (t *Tracker) States() map[string]KeyState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]KeyState, len(t.states))
	for k, v := range t.states {
		out[k] = *v
	}
	return out
}
