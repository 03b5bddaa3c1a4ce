// Package loop provides the single logical thread every sync component
// mutates state on. Blocking collaborator calls are spawned off the loop and
// post their results back.
package loop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"chatsync/pkg/logger"
)

var ErrStopped = errors.New("loop stopped")

// Executor is what sync components schedule work through.
type Executor interface {
	// Post queues fn to run on the loop.
	Post(fn func())
	// Spawn runs fn off the loop; fn must Post any state changes back.
	Spawn(fn func())
	// After runs fn on the loop once d has elapsed. cancel reports whether
	// it prevented the run.
	After(d time.Duration, fn func()) (cancel func() bool)
	Now() time.Time
}

type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	closed  bool
	done    chan struct{}
	running bool
	spawned sync.WaitGroup
}

func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		logger.Debug("loop_post_after_stop")
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) Spawn(fn func()) {
	l.spawned.Add(1)
	go func() {
		defer l.spawned.Done()
		defer recoverTask("loop_spawn_panic")
		fn()
	}()
}

func (l *Loop) After(d time.Duration, fn func()) func() bool {
	var mu sync.Mutex
	cancelled, fired := false, false
	t := time.AfterFunc(d, func() {
		l.Post(func() {
			mu.Lock()
			if cancelled {
				mu.Unlock()
				return
			}
			fired = true
			mu.Unlock()
			fn()
		})
	})
	return func() bool {
		t.Stop()
		mu.Lock()
		defer mu.Unlock()
		if fired || cancelled {
			return false
		}
		cancelled = true
		return true
	}
}

func (l *Loop) Now() time.Time { return time.Now() }

// Run executes queued tasks until ctx is done. It may be called once.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running || l.closed {
		l.mu.Unlock()
		return fmt.Errorf("loop already started")
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()
		for _, fn := range batch {
			if ctx.Err() != nil {
				return nil
			}
			runTask(fn)
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrStopped
	}
	l.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
		}
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Wait blocks until spawned work has returned or ctx is done.
func (l *Loop) Wait(ctx context.Context) error {
	ch := make(chan struct{})
	go func() {
		l.spawned.Wait()
		close(ch)
	}()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runTask(fn func()) {
	defer recoverTask("loop_task_panic")
	fn()
}

func recoverTask(event string) {
	if r := recover(); r != nil {
		logger.Error(event, "panic", r, "stack", string(debug.Stack()))
	}
}
