package chunk

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// ProcessAll is the all-or-nothing convenience wrapper over Processor: it
// runs items to completion and fails if any item exhausted its retries,
// with the returned error listing every permanently-failed index.
//
// Item failures below the retry bound stay invisible here; partial
// progress is not reported. Callers needing progress or partial results
// should drive a Processor directly.
//
// Cancelling ctx cancels the run cooperatively and returns ctx's error.
func ProcessAll[T any](ctx context.Context, items []T, fn ItemFunc[T], opts ...Option) error {
	var (
		mu   sync.Mutex
		merr *multierror.Error
		once sync.Once
		done = make(chan struct{})
	)

	settle := func() { once.Do(func() { close(done) }) }

	p := NewProcessor(items, fn, opts...).
		OnError(func(err error, _ T, index int) {
			mu.Lock()
			merr = multierror.Append(merr, fmt.Errorf("item %d: %w", index, err))
			mu.Unlock()
		}).
		OnComplete(settle).
		OnCancel(settle)

	p.Start()

	select {
	case <-done:
	case <-ctx.Done():
		p.Cancel()
		<-done
		return ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return merr.ErrorOrNil()
}
