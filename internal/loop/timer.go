package loop

import (
	"sync"
	"time"

	"cncpanel/internal/clock"
)

// Timer calls a function on the loop at a fixed interval. The next interval
// is only armed after the previous call has returned, so calls never
// overlap. Stop is one-way: a stopped timer cannot be restarted.
type Timer struct {
	loop     *Loop
	clock    clock.Clock
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	pending clock.Timer
	started bool
	stopped bool
}

// NewTimer creates a stopped timer that will call fn every interval once started.
func (l *Loop) NewTimer(c clock.Clock, interval time.Duration, fn func()) *Timer {
	if c == nil {
		c = clock.NewReal()
	}
	return &Timer{
		loop:     l,
		clock:    c,
		interval: interval,
		fn:       fn,
	}
}

// Start arms the timer. Starting an already started or stopped timer is a no-op.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started || t.stopped {
		return
	}
	t.started = true
	t.armLocked()
}

// Stop cancels the pending call, if any, and prevents any further calls.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

// Active reports whether the timer has been started and not stopped.
func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started && !t.stopped
}

// Interval returns the configured interval.
func (t *Timer) Interval() time.Duration {
	return t.interval
}

func (t *Timer) armLocked() {
	t.pending = t.clock.AfterFunc(t.interval, func() {
		t.loop.Post(t.fire)
	})
}

// fire runs on the loop goroutine.
func (t *Timer) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.pending = nil
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if !t.stopped {
			t.armLocked()
		}
	}()

	t.fn()
}
