package testutil

import (
	"sync"
	"time"
)

// FakeTimer records requested waits and fires immediately.
type FakeTimer struct {
	mu    sync.Mutex
	waits []time.Duration
}

// NewFakeTimer creates a fake timer.
func NewFakeTimer() *FakeTimer {
	return &FakeTimer{}
}

// After records d and returns an already-fired channel.
func (f *FakeTimer) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	f.waits = append(f.waits, d)
	f.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

// Waits returns a copy of the recorded waits in call order.
func (f *FakeTimer) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.waits))
	copy(out, f.waits)
	return out
}

// Reset clears the recorded waits.
func (f *FakeTimer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits = nil
}
