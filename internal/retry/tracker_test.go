package retry

import (
	"fmt"
	"sync"
	"testing"
)

func TestTracker_BeginKeepsOriginalLimit(t *testing.T) {
	tr := NewTracker()
	tr.Begin("a", 3)
	state := tr.Begin("a", 10)
	if state.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", state.MaxAttempts)
	}
}

func TestTracker_RecordAttempt(t *testing.T) {
	tr := NewTracker()
	tr.RecordAttempt("unknown", nil)
	if _, ok := tr.Get("unknown"); ok {
		t.Error("unknown key should not be tracked")
	}

	tr.Begin("a", 2)
	tr.RecordAttempt("a", fmt.Errorf("boom"))
	if !tr.ShouldRetry("a") {
		t.Error("ShouldRetry() = false after one failure")
	}
	state, _ := tr.Get("a")
	if state.LastError != "boom" || state.Attempts != 1 {
		t.Errorf("state = %+v", state)
	}

	tr.RecordAttempt("a", nil)
	if tr.ShouldRetry("a") {
		t.Error("ShouldRetry() = true after success")
	}

	tr.Reset("a")
	if len(tr.States()) != 0 {
		t.Error("Reset did not forget key")
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tr := NewTracker()
	tr.Begin("k", 1000)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordAttempt("k", fmt.Errorf("x"))
		}()
	}
	wg.Wait()

	state, _ := tr.Get("k")
	if state.Attempts != 50 {
		t.Errorf("Attempts = %d, want 50", state.Attempts)
	}
}
