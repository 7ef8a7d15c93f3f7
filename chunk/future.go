package chunk

import (
	"context"
	"time"
)

// Future is the settlement handle for a task scheduled on a Limiter.
// It settles exactly once; every accessor observes the same result.
//
// Type parameters:
//   - R: The result type of the scheduled task
type Future[R any] struct {
	done chan struct{}
	res  Result[R]
}

func newFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

// settle records the result and releases all waiters. Must be called at
// most once; the limiter is the only caller.
func (f *Future[R]) settle(value R, err error) {
	f.res = Result[R]{Value: value, Err: err}
	close(f.done)
}

// Get blocks until the task settles and returns its result.
// Repeated calls return the same result.
func (f *Future[R]) Get() (R, error) {
	<-f.done
	return f.res.Value, f.res.Err
}

// GetWithContext blocks until the task settles or ctx is done, whichever
// comes first. If ctx wins, the task keeps running and a later Get still
// returns its eventual result.
func (f *Future[R]) GetWithContext(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.res.Value, f.res.Err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// GetWithTimeout is GetWithContext with a deadline relative to now.
func (f *Future[R]) GetWithTimeout(timeout time.Duration) (R, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return f.GetWithContext(ctx)
}

// IsReady reports whether the task has settled, without blocking.
func (f *Future[R]) IsReady() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
