package scheduler

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the tick period used when none is configured.
const DefaultInterval = 2 * time.Second

// ticker paces poll cycles. Restart and SetInterval abandon the pending
// timer and start a fresh period from now.
type ticker struct {
	mu       sync.RWMutex
	interval time.Duration
	notify   chan struct{}
}

func newTicker(interval time.Duration) *ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &ticker{
		interval: interval,
		notify:   make(chan struct{}, 1),
	}
}

// Wait blocks until the current period elapsed.
func (t *ticker) Wait(ctx context.Context) (time.Time, error) {
	for {
		t.mu.RLock()
		interval := t.interval
		t.mu.RUnlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return time.Time{}, ctx.Err()
		case now := <-timer.C:
			return now, nil
		case <-t.notify:
			timer.Stop()
			continue
		}
	}
}

func (t *ticker) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	t.mu.Lock()
	if t.interval == d {
		t.mu.Unlock()
		return
	}
	t.interval = d
	t.mu.Unlock()
	t.Restart()
}

func (t *ticker) Interval() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.interval
}

// Restart drops the pending period.
func (t *ticker) Restart() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}
