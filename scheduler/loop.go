package scheduler

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned when work is handed to a loop that no longer runs.
var ErrStopped = errors.New("loop stopped")

// Loop is the single logical thread all client state lives on. Callbacks
// posted to it run one at a time in posting order. Blocking work never runs
// on the loop; it runs in its own goroutine and posts its completion back.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// NewLoop creates an idle loop. Callbacks posted before Run are queued.
func NewLoop() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post enqueues fn. It never blocks and reports false once the loop stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return true
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to finish. It must not be
// used from a callback already running on the loop.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes posted callbacks until ctx is cancelled. Callbacks still
// queued at that point are dropped.
func (l *Loop) Run(ctx context.Context) {
	defer func() {
		l.mu.Lock()
		l.closed = true
		l.pending = nil
		l.mu.Unlock()
		close(l.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
		for {
			l.mu.Lock()
			batch := l.pending
			l.pending = nil
			l.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				if ctx.Err() != nil {
					return
				}
				fn()
			}
		}
	}
}

// Done is closed once Run returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
