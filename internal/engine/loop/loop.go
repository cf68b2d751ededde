// Package loop runs closures one at a time on a single goroutine and schedules
// timers whose callbacks land on that same goroutine.
package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	ErrStopped = errors.New("event loop stopped")
	ErrRunning = errors.New("event loop already running")
)

// Loop is a cooperative single-goroutine executor. Post never blocks, so callbacks
// running on the loop may post more work.
type Loop struct {
	clock clockwork.Clock

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake    chan struct{}
	stopped chan struct{}
	running atomic.Bool
}

// New returns a loop that takes its timers from clock.
func New(clock clockwork.Clock) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loop{
		clock:   clock,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

func (l *Loop) Clock() clockwork.Clock { return l.clock }

// Post queues fn. It reports false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it. It must not be called from the loop itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		// fn may have run right before the loop exited
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Run executes queued work until ctx is cancelled. Work still queued at that point is
// dropped.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		close(l.stopped)
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.stopped }

// Timer is a one-shot callback scheduled on the loop.
type Timer struct {
	timer   clockwork.Timer
	stopped atomic.Bool
}

// Stop cancels the timer. A callback already queued on the loop is skipped.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	t.stopped.Store(true)
	t.timer.Stop()
}

// AfterFunc runs fn on the loop once d has elapsed on the loop's clock.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	t.timer = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if !t.stopped.Load() {
				fn()
			}
		})
	})
	return t
}

// Ticker is a repeating callback scheduled on the loop.
type Ticker struct {
	ticker  clockwork.Ticker
	stopped atomic.Bool
	done    chan struct{}
	once    sync.Once
}

// Stop cancels the ticker.
func (t *Ticker) Stop() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.stopped.Store(true)
		t.ticker.Stop()
		close(t.done)
	})
}

// Every runs fn on the loop each time d elapses. Ticks that arrive while the previous
// one is still queued are coalesced by the underlying ticker.
func (l *Loop) Every(d time.Duration, fn func()) *Ticker {
	t := &Ticker{ticker: l.clock.NewTicker(d), done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-t.ticker.Chan():
				l.Post(func() {
					if !t.stopped.Load() {
						fn()
					}
				})
			case <-t.done:
				return
			case <-l.stopped:
				t.ticker.Stop()
				return
			}
		}
	}()
	return t
}
