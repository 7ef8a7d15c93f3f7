package chunk

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStream_PushAndFlush(t *testing.T) {
	var processed atomic.Int32
	s := NewStream(func(ctx context.Context, item int, index int) error {
		processed.Add(1)
		return nil
	}, WithConcurrency(4))
	defer s.Stop()

	for i := 0; i < 20; i++ {
		s.Push(i)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	if processed.Load() != 20 {
		t.Errorf("expected 20 processed, got %d", processed.Load())
	}
	stats := s.Stats()
	if stats.Processed != 20 || stats.Queued != 0 || stats.Pending != 0 {
		t.Errorf("unexpected stats after flush: %+v", stats)
	}
	if stats.IsProcessing {
		t.Error("stream should be quiescent after flush")
	}
}

func TestStream_PushBatchPreservesIndices(t *testing.T) {
	var mu sync.Mutex
	seen := map[int]string{}

	s := NewStream(func(ctx context.Context, item string, index int) error {
		mu.Lock()
		seen[index] = item
		mu.Unlock()
		return nil
	}, WithConcurrency(2))
	defer s.Stop()

	s.PushBatch([]string{"a", "b"})
	s.PushBatch([]string{"c"})
	s.Push("d")

	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := map[int]string{0: "a", 1: "b", 2: "c", 3: "d"}
	for idx, item := range want {
		if seen[idx] != item {
			t.Errorf("index %d: expected %q, got %q", idx, item, seen[idx])
		}
	}
}

func TestStream_ErrorsAreCountedAndReported(t *testing.T) {
	boom := errors.New("boom")
	var reported atomic.Int32

	s := NewStream(func(ctx context.Context, item int, index int) error {
		if item%2 == 1 {
			return boom
		}
		return nil
	}).OnError(func(err error, item int, index int) {
		if !errors.Is(err, boom) {
			t.Errorf("unexpected error: %v", err)
		}
		reported.Add(1)
	})
	defer s.Stop()

	s.PushBatch([]int{0, 1, 2, 3, 4, 5})
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	stats := s.Stats()
	if stats.Processed != 3 {
		t.Errorf("expected 3 processed, got %d", stats.Processed)
	}
	if stats.Errors != 3 {
		t.Errorf("expected 3 errors, got %d", stats.Errors)
	}
	if reported.Load() != 3 {
		t.Errorf("expected 3 OnError reports, got %d", reported.Load())
	}
}

func TestStream_FlushHonorsContext(t *testing.T) {
	release := make(chan struct{})
	s := NewStream(func(ctx context.Context, item int, index int) error {
		<-release
		return nil
	}, WithConcurrency(1))
	defer func() {
		close(release)
		s.Stop()
	}()

	s.Push(1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := s.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestStream_StopDropsQueuedAndStaysUsable(t *testing.T) {
	var processed atomic.Int32
	release := make(chan struct{})

	s := NewStream(func(ctx context.Context, item int, index int) error {
		if item < 0 {
			<-release
		}
		processed.Add(1)
		return nil
	}, WithConcurrency(1))

	// One blocker in flight plus queued work that Stop will drop.
	s.Push(-1)
	for i := 0; i < 5; i++ {
		s.Push(i)
	}
	time.Sleep(20 * time.Millisecond)

	s.Stop()
	close(release)

	// The instance accepts new work on its rebuilt limiter.
	s.PushBatch([]int{10, 11, 12})
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush after stop failed: %v", err)
	}

	stats := s.Stats()
	// The blocker plus the three post-stop items; the dropped five never ran.
	if stats.Processed != 4 {
		t.Errorf("expected 4 processed, got %d", stats.Processed)
	}
	s.Stop()
}

func TestStream_ItemsPushedDuringFlushAreNotWaitedOn(t *testing.T) {
	var processed atomic.Int32
	blockLate := make(chan struct{})

	s := NewStream(func(ctx context.Context, item int, index int) error {
		if item == 99 {
			<-blockLate
		}
		processed.Add(1)
		return nil
	}, WithConcurrency(2))
	defer func() {
		close(blockLate)
		s.Stop()
	}()

	s.PushBatch([]int{1, 2, 3})

	flushed := make(chan error, 1)
	go func() { flushed <- s.Flush(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	s.Push(99) // pushed after Flush began; blocks forever until released

	select {
	case err := <-flushed:
		if err != nil {
			t.Fatalf("flush failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("flush waited on an item pushed after it began")
	}
}
