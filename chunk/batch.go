package chunk

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chunkflow/chunkflow/internal/algorithms"
)

const (
	// DefaultBatchRetries is the retry budget per item in RunBatch.
	DefaultBatchRetries = 2
	// DefaultRetryDelay is the base delay of the batch backoff.
	DefaultRetryDelay = 200 * time.Millisecond
)

// BatchOption is a functional option for configuring RunBatch.
type BatchOption func(*batchConfig)

type batchConfig struct {
	maxRetries      int
	retryDelay      time.Duration
	maxDelay        time.Duration
	continueOnError bool
	concurrency     int
	backoffType     algorithms.BackoffType
}

func newBatchConfig(opts ...BatchOption) *batchConfig {
	cfg := &batchConfig{
		maxRetries:      DefaultBatchRetries,
		retryDelay:      DefaultRetryDelay,
		continueOnError: true,
		concurrency:     DefaultConcurrency,
		backoffType:     algorithms.BackoffLinear,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithBatchRetries sets how many retry attempts each item gets after its
// initial failure.
func WithBatchRetries(n int) BatchOption {
	return func(cfg *batchConfig) {
		if n >= 0 {
			cfg.maxRetries = n
		}
	}
}

// WithRetryDelay sets the base delay between attempts. The default linear
// backoff waits retryDelay, 2*retryDelay, 3*retryDelay, and so on.
func WithRetryDelay(d time.Duration) BatchOption {
	return func(cfg *batchConfig) {
		if d >= 0 {
			cfg.retryDelay = d
		}
	}
}

// WithContinueOnError controls whether the first permanently-failed item
// rejects the whole run (false) or failures are collected while the rest
// of the batch proceeds (true, the default).
func WithContinueOnError(enabled bool) BatchOption {
	return func(cfg *batchConfig) {
		cfg.continueOnError = enabled
	}
}

// WithBatchConcurrency sets the batch's own limiter bound.
func WithBatchConcurrency(n int) BatchOption {
	return func(cfg *batchConfig) {
		if n > 0 {
			cfg.concurrency = n
		}
	}
}

// WithBackoff selects the backoff curve between attempts. maxDelay caps
// the delay; zero means uncapped.
func WithBackoff(backoffType algorithms.BackoffType, maxDelay time.Duration) BatchOption {
	return func(cfg *batchConfig) {
		cfg.backoffType = backoffType
		cfg.maxDelay = maxDelay
	}
}

// RunBatch runs operation over every item through a dedicated limiter,
// retrying each failed item with backoff before giving up on it. It is the
// fire-and-collect shape for fallible remote operations: one bad item does
// not abort the batch (unless WithContinueOnError(false)).
//
// With continue-on-error (the default) the call always succeeds and the
// BatchResult carries the split: Results holds the values of items that
// eventually succeeded, in original-index order; Errors holds one entry
// per permanently-failed item, in original-index order.
//
// With WithContinueOnError(false) the first permanently-failed item fails
// the run. In-flight operations are not forcibly aborted; they observe
// the cancelled context at their own suspension points.
//
// Example:
//
//	res, err := chunk.RunBatch(ctx, ids, fetchRecord,
//	    chunk.WithBatchRetries(2),
//	    chunk.WithRetryDelay(time.Second),
//	)
//	if err != nil {
//	    return err
//	}
//	for _, e := range res.Errors {
//	    log.Warn("record skipped", "id", e.Item, "err", e.Err)
//	}
func RunBatch[T any, R any](
	ctx context.Context,
	items []T,
	operation Operation[T, R],
	opts ...BatchOption,
) (*BatchResult[T, R], error) {
	cfg := newBatchConfig(opts...)
	if len(items) == 0 {
		return &BatchResult[T, R]{Results: []R{}}, nil
	}

	lim := newLimiter[R](newConfig(WithConcurrency(cfg.concurrency)))
	defer lim.Stop(false)

	backoff := algorithms.NewBackoffStrategy(cfg.backoffType, cfg.retryDelay, cfg.maxDelay)

	g, gctx := errgroup.WithContext(ctx)

	values := make([]R, len(items))
	settled := make([]bool, len(items))
	var mu sync.Mutex
	var failed []BatchError[T]

	for i, item := range items {
		i, item := i, item
		future := lim.Schedule(func(context.Context) (R, error) {
			// The run's own context governs retries so a rejected run
			// releases items that are still waiting out a backoff.
			return attemptItem(gctx, item, operation, cfg.maxRetries, backoff)
		})

		g.Go(func() error {
			value, err := future.Get()
			if err == nil {
				values[i] = value
				settled[i] = true
				return nil
			}
			mu.Lock()
			failed = append(failed, BatchError[T]{Item: item, Index: i, Err: err})
			mu.Unlock()
			if !cfg.continueOnError {
				return fmt.Errorf("item %d failed permanently: %w", i, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i].Index < failed[j].Index })

	results := make([]R, 0, len(items))
	for i := range items {
		if settled[i] {
			results = append(results, values[i])
		}
	}
	return &BatchResult[T, R]{Results: results, Errors: failed}, nil
}

// attemptItem runs one item through its retry budget, suspending between
// attempts while holding the limiter slot.
func attemptItem[T any, R any](
	ctx context.Context,
	item T,
	operation Operation[T, R],
	maxRetries int,
	backoff algorithms.BackoffStrategy,
) (R, error) {
	var zero R
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if attempt > 0 {
			delay := backoff.NextDelay(attempt-1, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		value, err := operation(ctx, item)
		if err == nil {
			return value, nil
		}
		lastErr = err
	}
	return zero, lastErr
}
