// Package clock provides the time source used by poll timers and
// time-based channels. Use Real in production and Mock in tests so that
// poll cadence can be driven explicitly.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is an interface for time operations, allowing time to be mocked in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After waits for the duration to elapse and then sends the current time on the returned channel.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for the duration to elapse and then calls f.
	// It returns a Timer that can be used to cancel the call using its Stop method.
	AfterFunc(d time.Duration, f func()) Timer

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration
}

// Timer represents a single pending call that can be stopped.
type Timer interface {
	// Stop prevents the Timer from firing. Returns true if the call stops the timer,
	// false if the timer has already expired or been stopped.
	Stop() bool
}

// Real implements Clock using the standard time package.
type Real struct{}

// NewReal creates a new Real clock.
func NewReal() *Real {
	return &Real{}
}

// Now returns the current time.
func (c *Real) Now() time.Time {
	return time.Now()
}

// After waits for the duration to elapse and then sends the current time.
func (c *Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// AfterFunc calls f in its own goroutine once d has elapsed.
func (c *Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Since returns the time elapsed since t.
func (c *Real) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// Mock is a Clock whose time only moves when Advance or Set is called.
// Expired timers fire synchronously on the goroutine calling Advance, in
// deadline order.
type Mock struct {
	mu      sync.Mutex
	current time.Time
	timers  []*mockTimer
}

type mockTimer struct {
	mu       sync.Mutex
	deadline time.Time
	f        func()
	stopped  bool
}

// NewMock creates a new Mock clock starting at the given time.
func NewMock(start time.Time) *Mock {
	return &Mock{current: start}
}

// Now returns the mock current time.
func (c *Mock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives the mock time once d has been advanced past.
func (c *Mock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.AfterFunc(d, func() {
		ch <- c.Now()
	})
	return ch
}

// AfterFunc schedules f to be called once the clock is advanced past d.
func (c *Mock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &mockTimer{deadline: c.current.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Since returns the time elapsed since t using the mock current time.
func (c *Mock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (c *Mock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.timers {
		t.mu.Lock()
		if !t.stopped {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

// Advance moves the clock forward by d and fires every timer whose deadline
// has been reached. Timers scheduled by the fired callbacks are only fired
// if their own deadline also falls inside the advanced window.
func (c *Mock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		next := c.nextDue(target)
		if next == nil {
			break
		}

		c.mu.Lock()
		if next.deadline.After(c.current) {
			c.current = next.deadline
		}
		c.mu.Unlock()

		next.mu.Lock()
		if next.stopped {
			next.mu.Unlock()
			continue
		}
		next.stopped = true
		f := next.f
		next.mu.Unlock()

		// Fire outside every lock so callbacks may schedule new timers
		f()
	}

	c.mu.Lock()
	c.current = target
	c.mu.Unlock()
}

// nextDue removes and returns the earliest live timer due at or before target.
func (c *Mock) nextDue(target time.Time) *mockTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.timers[:0]
	for _, t := range c.timers {
		t.mu.Lock()
		stopped := t.stopped
		t.mu.Unlock()
		if !stopped {
			live = append(live, t)
		}
	}
	c.timers = live

	sort.SliceStable(c.timers, func(i, j int) bool {
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})

	if len(c.timers) == 0 || c.timers[0].deadline.After(target) {
		return nil
	}

	t := c.timers[0]
	c.timers = c.timers[1:]
	return t
}

// Set sets the mock clock to a specific time and fires any expired timers.
func (c *Mock) Set(t time.Time) {
	now := c.Now()
	if t.After(now) {
		c.Advance(t.Sub(now))
		return
	}

	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Stop prevents the timer from firing.
func (t *mockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}
