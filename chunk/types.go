package chunk

import (
	"context"
	"errors"
)

var (
	// ErrLimiterStopped is returned by tasks scheduled on a limiter after
	// Stop has been called. A stopped limiter cannot be restarted; build a
	// new one instead.
	ErrLimiterStopped = errors.New("limiter is stopped")

	// ErrTaskDropped is the settlement error for tasks that were queued on
	// a limiter but never started because Stop(true) dropped the queue.
	ErrTaskDropped = errors.New("task dropped before dispatch")
)

// ItemFunc processes a single item of the input collection.
// index is the item's original position in the collection and is stable
// across retries. The function may block; it is called from the engine's
// own goroutines, never from the caller's.
//
// Type parameters:
//   - T: The item type
type ItemFunc[T any] func(ctx context.Context, item T, index int) error

// Operation transforms a single item into a result. Used by RunBatch for
// fallible remote operations that produce a value.
//
// Type parameters:
//   - T: The input item type
//   - R: The result type
type Operation[T any, R any] func(ctx context.Context, item T) (R, error)

// Result is the settlement of a scheduled task: either a value or an error.
type Result[R any] struct {
	Value R
	Err   error
}

// Failure records one item that has failed at least once and has not yet
// succeeded. A Failure is created on the item's first failed attempt,
// updated on each subsequent failure, and discarded when the item succeeds
// or exhausts its retries. It is owned by the processor that produced it.
//
// Type parameters:
//   - T: The item type
type Failure[T any] struct {
	// Item is the original work item, never mutated by the engine.
	Item T
	// Index is the item's original position in the input collection.
	Index int
	// Retries is the number of retry attempts made so far (the initial
	// attempt is not counted).
	Retries int
	// LastErr is the error from the most recent failed attempt.
	LastErr error
}

// Progress is an immutable snapshot of a processor's progress, recomputed
// from the live counters on every call so callers never observe stale data.
type Progress struct {
	Processed  int
	Total      int
	Percentage float64
}

// QueueStats describes the state of a processor's dispatch queue.
type QueueStats struct {
	// Size is the number of tasks queued on the limiter but not yet started.
	Size int
	// Pending is the number of tasks currently executing.
	Pending int
	// IsPaused reports whether the processor is paused.
	IsPaused bool
}

// StreamStats describes the state of a Stream processor.
type StreamStats struct {
	Processed    int64
	Errors       int64
	Queued       int64
	Pending      int64
	IsProcessing bool
}

// LimiterStats exposes the limiter's internal counters for introspection.
type LimiterStats struct {
	// Queued is the number of tasks accepted but not yet dispatched.
	Queued int64
	// Running is the number of tasks currently executing.
	Running int64
}

// BatchError pairs a permanently-failed item with its original index and
// the error from its final attempt.
//
// Type parameters:
//   - T: The item type
type BatchError[T any] struct {
	Item  T
	Index int
	Err   error
}

// BatchResult aggregates the outcome of a RunBatch call. Results holds the
// values of every item that eventually succeeded, in original-index order;
// permanently-failed items are omitted rather than null-filled. Errors
// holds one entry per permanently-failed item, in original-index order.
//
// Type parameters:
//   - T: The input item type
//   - R: The result type
type BatchResult[T any, R any] struct {
	Results []R
	Errors  []BatchError[T]
}
