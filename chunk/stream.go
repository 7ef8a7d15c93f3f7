package chunk

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Stream is the push-oriented variant of Processor for input that arrives
// incrementally rather than as a fixed collection: paginated fetch
// results, tailing reads, and the like. Items are submitted to the limiter
// immediately on Push; there is no chunk slicing and no idle-yield gating.
//
// Unlike Processor, a Stream survives Stop: the limiter is rebuilt so the
// instance can keep accepting pushes afterwards.
//
// Type parameters:
//   - T: The item type
type Stream[T any] struct {
	fn   ItemFunc[T]
	conf *config
	log  *slog.Logger

	mu      sync.Mutex
	limiter *Limiter[struct{}]
	pending []*Future[struct{}]
	index   int

	processed atomic.Int64
	errCount  atomic.Int64

	onError func(err error, item T, index int)
}

// NewStream creates a stream processor. The limiter starts immediately;
// the first Push dispatches as soon as a slot is free.
//
// Example:
//
//	s := chunk.NewStream(indexEntry, chunk.WithConcurrency(4))
//	for page := range pages {
//	    s.PushBatch(page.Entries)
//	}
//	if err := s.Flush(ctx); err != nil {
//	    return err
//	}
func NewStream[T any](fn ItemFunc[T], opts ...Option) *Stream[T] {
	cfg := newConfig(opts...)
	return &Stream[T]{
		fn:      fn,
		conf:    cfg,
		log:     cfg.log(),
		limiter: newLimiter[struct{}](cfg),
	}
}

// OnError sets the callback invoked for each item whose processing fails.
// Stream items are not retried; retry belongs to the pusher, which still
// holds the item.
func (s *Stream[T]) OnError(fn func(err error, item T, index int)) *Stream[T] {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
	return s
}

// Push submits one item for processing and returns immediately.
func (s *Stream[T]) Push(item T) {
	s.mu.Lock()
	index := s.index
	s.index++
	lim := s.limiter
	onError := s.onError

	future := lim.Schedule(func(ctx context.Context) (struct{}, error) {
		err := s.fn(ctx, item, index)
		if err != nil {
			s.errCount.Add(1)
			if onError != nil {
				onError(err, item, index)
			}
			return struct{}{}, err
		}
		s.processed.Add(1)
		return struct{}{}, nil
	})
	s.pending = append(s.pending, future)
	s.mu.Unlock()
}

// PushBatch submits a batch of items in order.
func (s *Stream[T]) PushBatch(items []T) {
	for _, item := range items {
		s.Push(item)
	}
}

// Flush blocks until every item scheduled before the call has settled.
// Items pushed after Flush began are not guaranteed to be included in this
// flush's wait. Item-level errors do not fail the flush; only ctx does.
func (s *Stream[T]) Flush(ctx context.Context) error {
	s.mu.Lock()
	snapshot := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, f := range snapshot {
		if _, err := f.GetWithContext(ctx); err != nil && errors.Is(err, ctx.Err()) {
			return ctx.Err()
		}
	}
	return nil
}

// Stop drops all queued work and rebuilds a fresh limiter so the stream
// can keep accepting pushes. In-flight items run to completion unless the
// stream was built with WithHardCancel. Cumulative processed/error counts
// survive.
func (s *Stream[T]) Stop() {
	s.mu.Lock()
	old := s.limiter
	s.limiter = newLimiter[struct{}](s.conf)
	s.pending = nil
	s.mu.Unlock()

	old.Stop(true)
	if s.conf.debug {
		s.log.Debug("stream stopped", slog.Int64("processed", s.processed.Load()))
	}
}

// Stats returns a snapshot of the stream's counters, recomputed on demand.
func (s *Stream[T]) Stats() StreamStats {
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()

	ls := lim.Stats()
	return StreamStats{
		Processed:    s.processed.Load(),
		Errors:       s.errCount.Load(),
		Queued:       ls.Queued,
		Pending:      ls.Running,
		IsProcessing: ls.Queued+ls.Running > 0,
	}
}
