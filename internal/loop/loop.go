// Package loop provides the single event-loop goroutine on which every
// channel update, notification and rule evaluation runs, together with the
// repeating timer used to drive plugin poll ticks.
package loop

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultQueueSize is the number of pending functions a Loop buffers before
// Post blocks.
const DefaultQueueSize = 1024

// Loop executes posted functions one at a time, in posting order.
type Loop struct {
	queue  chan func()
	logger *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a loop with the given queue size (<= 0 selects DefaultQueueSize).
func New(logger *zap.Logger, queueSize int) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Loop{
		queue:  make(chan func(), queueSize),
		logger: logger,
		closed: make(chan struct{}),
	}
}

// Run processes posted functions until ctx is cancelled. After Run returns
// the loop is closed and further posts are rejected.
func (l *Loop) Run(ctx context.Context) error {
	defer l.close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.queue:
			l.exec(fn)
		}
	}
}

// Post queues fn for execution on the loop goroutine. It returns false if the
// loop has been closed.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.closed:
		return false
	default:
	}

	select {
	case l.queue <- fn:
		return true
	case <-l.closed:
		return false
	}
}

// Call runs fn on the loop goroutine and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return fmt.Errorf("event loop closed")
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closed:
		return fmt.Errorf("event loop closed")
	}
}

// Drain executes every queued function on the calling goroutine and returns
// how many ran. It is intended for tests that drive the loop by hand instead
// of calling Run.
func (l *Loop) Drain() int {
	n := 0
	for {
		select {
		case fn := <-l.queue:
			l.exec(fn)
			n++
		default:
			return n
		}
	}
}

// Closed reports whether the loop has stopped accepting work.
func (l *Loop) Closed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Recovered panic in event loop",
				zap.Any("panic", r))
		}
	}()
	fn()
}

func (l *Loop) close() {
	l.closeOnce.Do(func() { close(l.closed) })
}
