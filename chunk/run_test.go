package chunk

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestProcessAll_Success(t *testing.T) {
	items := make([]int, 40)
	var processed atomic.Int32

	err := ProcessAll(context.Background(), items, func(ctx context.Context, item int, index int) error {
		processed.Add(1)
		return nil
	}, WithConcurrency(4), WithChunkSize(10))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed.Load() != 40 {
		t.Errorf("expected 40 processed, got %d", processed.Load())
	}
}

func TestProcessAll_RejectsWithEveryFailedIndex(t *testing.T) {
	items := []string{"ok", "bad", "ok", "bad"}

	err := ProcessAll(context.Background(), items, func(ctx context.Context, item string, index int) error {
		if item == "bad" {
			return errors.New("unprocessable")
		}
		return nil
	}, WithRetries(1))

	if err == nil {
		t.Fatal("expected rejection when items exhaust retries")
	}
	for _, want := range []string{"item 1", "item 3"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q: %v", want, err)
		}
	}
	if strings.Contains(err.Error(), "item 0") || strings.Contains(err.Error(), "item 2") {
		t.Errorf("error mentions successful items: %v", err)
	}
}

func TestProcessAll_ContextCancellation(t *testing.T) {
	items := make([]int, 200)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	var once atomic.Bool
	go func() {
		<-started
		cancel()
	}()

	err := ProcessAll(ctx, items, func(tctx context.Context, item int, index int) error {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		time.Sleep(10 * time.Millisecond)
		return nil
	}, WithConcurrency(2), WithChunkSize(10))

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
