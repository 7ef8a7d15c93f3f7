package chunk

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter bounds how many scheduled tasks may execute simultaneously and
// enforces a minimum spacing between successive dispatches. Tasks are
// dispatched in submission order (FIFO); completion order is not
// guaranteed; a slow task may finish after later, faster ones.
//
// A Limiter is single-use: once stopped it rejects new work and cannot be
// restarted. Build a new one instead.
//
// Type parameters:
//   - R: The result type produced by scheduled tasks
type Limiter[R any] struct {
	sem        *semaphore.Weighted
	pacer      *rate.Limiter
	log        *slog.Logger
	debug      bool
	queueLimit int
	hardCancel bool

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	waiting  []*scheduledTask[R]
	stopped  bool
	dropping atomic.Bool
	warned   bool

	notify chan struct{}
	quit   chan struct{}

	queued  atomic.Int64
	running atomic.Int64
}

type scheduledTask[R any] struct {
	run    func(ctx context.Context) (R, error)
	future *Future[R]
}

// NewLimiter creates a limiter that allows at most maxConcurrent tasks in
// flight (minimum 1) with at least minSpacing between dispatches.
//
// Example:
//
//	lim := chunk.NewLimiter[string](3, 10*time.Millisecond)
//	future := lim.Schedule(func(ctx context.Context) (string, error) {
//	    return fetch(ctx, url)
//	})
//	value, err := future.Get()
func NewLimiter[R any](maxConcurrent int, minSpacing time.Duration) *Limiter[R] {
	cfg := newConfig(WithConcurrency(maxConcurrent), WithMinSpacing(minSpacing))
	return newLimiter[R](cfg)
}

func newLimiter[R any](cfg *config) *Limiter[R] {
	ctx, cancel := context.WithCancel(context.Background())

	var pacer *rate.Limiter
	if cfg.minSpacing > 0 {
		pacer = rate.NewLimiter(rate.Every(cfg.minSpacing), 1)
	}

	l := &Limiter[R]{
		sem:        semaphore.NewWeighted(int64(cfg.concurrency)),
		pacer:      pacer,
		log:        cfg.log(),
		debug:      cfg.debug,
		queueLimit: cfg.queueLimit,
		hardCancel: cfg.hardCancel,
		ctx:        ctx,
		cancel:     cancel,
		notify:     make(chan struct{}, 1),
		quit:       make(chan struct{}),
	}

	go l.dispatch()
	return l
}

// Schedule accepts a zero-argument unit of asynchronous work and returns a
// Future for its eventual result. Errors returned (or panics raised) by the
// task settle that task's own future only; sibling tasks and the limiter's
// bookkeeping are unaffected.
//
// Scheduling on a stopped limiter settles the future immediately with
// ErrLimiterStopped.
func (l *Limiter[R]) Schedule(task func(ctx context.Context) (R, error)) *Future[R] {
	future := newFuture[R]()

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		var zero R
		future.settle(zero, ErrLimiterStopped)
		return future
	}
	l.waiting = append(l.waiting, &scheduledTask[R]{run: task, future: future})
	queued := l.queued.Add(1)
	warn := l.queueLimit > 0 && queued > int64(l.queueLimit) && !l.warned
	if warn {
		l.warned = true
	}
	l.mu.Unlock()

	if warn {
		l.log.Warn("limiter queue exceeds soft limit",
			slog.Int64("queued", queued),
			slog.Int("limit", l.queueLimit))
	}

	select {
	case l.notify <- struct{}{}:
	default:
	}
	return future
}

// Stop shuts the limiter down. When dropWaiting is true, queued tasks that
// have not started are settled with ErrTaskDropped; when false they are
// drained through the usual dispatch path first. In-flight tasks are never
// forcibly aborted unless the limiter was built with hard-cancel, and even
// then they stop only at their own suspension points.
//
// Stop is idempotent; internal shutdown hiccups are swallowed so they can
// never corrupt a caller's run bookkeeping.
func (l *Limiter[R]) Stop(dropWaiting bool) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	var dropped []*scheduledTask[R]
	if dropWaiting {
		l.dropping.Store(true)
		dropped = l.waiting
		l.waiting = nil
	}
	l.mu.Unlock()

	close(l.quit)

	var zero R
	for _, t := range dropped {
		l.queued.Add(-1)
		t.future.settle(zero, ErrTaskDropped)
	}

	if l.hardCancel {
		l.cancel()
	}
	if l.debug {
		l.log.Debug("limiter stopped", slog.Bool("dropWaiting", dropWaiting),
			slog.Int("dropped", len(dropped)))
	}
}

// Stats returns the limiter's queued/running counters. Approximate under
// concurrent scheduling, exact when the limiter is quiescent.
func (l *Limiter[R]) Stats() LimiterStats {
	return LimiterStats{
		Queued:  l.queued.Load(),
		Running: l.running.Load(),
	}
}

// dispatch is the limiter's single dispatcher goroutine. It owns the
// waiting queue's head: pop, pace, acquire a slot, launch. After Stop it
// drains whatever Stop left in the queue, then exits.
func (l *Limiter[R]) dispatch() {
	for {
		t := l.pop()
		if t == nil {
			return
		}

		// Pacing and slot acquisition only fail when a hard-cancel Stop
		// cancelled the limiter's context; the task never started, so its
		// settlement carries the drop sentinel, not the raw context error.
		if l.pacer != nil {
			if err := l.pacer.Wait(l.ctx); err != nil {
				l.settleUnstarted(t, ErrTaskDropped)
				continue
			}
		}
		if err := l.sem.Acquire(l.ctx, 1); err != nil {
			l.settleUnstarted(t, ErrTaskDropped)
			continue
		}
		// The task may have been popped before Stop(true) landed; it has
		// not started, so it is still droppable.
		if l.dropping.Load() {
			l.sem.Release(1)
			l.settleUnstarted(t, ErrTaskDropped)
			continue
		}

		l.queued.Add(-1)
		l.running.Add(1)

		go func(t *scheduledTask[R]) {
			defer func() {
				l.running.Add(-1)
				l.sem.Release(1)
			}()
			value, err := runShielded(l.ctx, t.run)
			t.future.settle(value, err)
		}(t)
	}
}

// pop returns the next waiting task, blocking until one is available.
// Returns nil once the limiter is stopped and the queue is empty.
func (l *Limiter[R]) pop() *scheduledTask[R] {
	for {
		l.mu.Lock()
		if len(l.waiting) > 0 {
			t := l.waiting[0]
			l.waiting = l.waiting[1:]
			l.mu.Unlock()
			return t
		}
		stopped := l.stopped
		l.mu.Unlock()

		if stopped {
			return nil
		}
		select {
		case <-l.notify:
		case <-l.quit:
		}
	}
}

func (l *Limiter[R]) settleUnstarted(t *scheduledTask[R], err error) {
	l.queued.Add(-1)
	var zero R
	t.future.settle(zero, err)
}

// runShielded executes a task with panic recovery so a panicking task
// settles its own future instead of crashing the dispatcher.
func runShielded[R any](ctx context.Context, fn func(ctx context.Context) (R, error)) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = fmt.Errorf("task panic: %v\nstack trace:\n%s", r, buf[:n])
		}
	}()
	return fn(ctx)
}
