package chunk

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chunkflow/chunkflow/internal/algorithms"
)

func TestRunBatch_AllSucceed(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	res, err := RunBatch(context.Background(), items, func(ctx context.Context, n int) (int, error) {
		return n * 2, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Results) != 5 || len(res.Errors) != 0 {
		t.Fatalf("expected 5 results and no errors, got %d/%d", len(res.Results), len(res.Errors))
	}
	for i, n := range items {
		if res.Results[i] != n*2 {
			t.Errorf("result %d: expected %d, got %d", i, n*2, res.Results[i])
		}
	}
}

func TestRunBatch_EmptyInput(t *testing.T) {
	res, err := RunBatch(context.Background(), nil, func(ctx context.Context, n int) (int, error) {
		t.Error("operation called for empty input")
		return 0, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Results) != 0 || len(res.Errors) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestRunBatch_TransientFailureRecovers(t *testing.T) {
	items := []string{"item1", "item2", "item3", "fail", "item4"}
	var failAttempts atomic.Int32

	res, err := RunBatch(context.Background(), items, func(ctx context.Context, item string) (string, error) {
		if item == "fail" && failAttempts.Add(1) <= 2 {
			return "", errors.New("temporary failure")
		}
		return "processed_" + item, nil
	}, WithBatchRetries(2), WithRetryDelay(10*time.Millisecond))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(res.Results))
	}
	if len(res.Errors) != 0 {
		t.Fatalf("expected no errors, got %d", len(res.Errors))
	}
	if !slices.Contains(res.Results, "processed_fail") {
		t.Errorf("expected recovered item in results: %v", res.Results)
	}
}

func TestRunBatch_ContinueOnErrorCollectsFailures(t *testing.T) {
	items := []string{"success", "fail1", "fail2"}

	res, err := RunBatch(context.Background(), items, func(ctx context.Context, item string) (string, error) {
		if item == "success" {
			return "processed_" + item, nil
		}
		return "", fmt.Errorf("%s is broken", item)
	}, WithBatchRetries(1), WithRetryDelay(5*time.Millisecond), WithContinueOnError(true))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0] != "processed_success" {
		t.Fatalf("expected [processed_success], got %v", res.Results)
	}
	if len(res.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(res.Errors))
	}
	if res.Errors[0].Item != "fail1" || res.Errors[1].Item != "fail2" {
		t.Errorf("errors out of index order: %+v", res.Errors)
	}
	if res.Errors[0].Index != 1 || res.Errors[1].Index != 2 {
		t.Errorf("unexpected error indices: %+v", res.Errors)
	}
}

func TestRunBatch_RejectsOnFirstPermanentFailure(t *testing.T) {
	items := []string{"ok1", "doomed", "ok2"}

	res, err := RunBatch(context.Background(), items, func(ctx context.Context, item string) (string, error) {
		if item == "doomed" {
			return "", errors.New("always fails")
		}
		return item, nil
	}, WithBatchRetries(0), WithContinueOnError(false))

	if err == nil {
		t.Fatal("expected run to reject")
	}
	if res != nil {
		t.Errorf("expected nil result on rejection, got %+v", res)
	}
}

func TestRunBatch_RetryCountPerItem(t *testing.T) {
	var mu sync.Mutex
	attempts := map[string]int{}

	_, err := RunBatch(context.Background(), []string{"a", "b"}, func(ctx context.Context, item string) (string, error) {
		mu.Lock()
		attempts[item]++
		mu.Unlock()
		return "", errors.New("never works")
	}, WithBatchRetries(2), WithRetryDelay(time.Millisecond))

	if err != nil {
		t.Fatalf("continue-on-error run should not reject: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, item := range []string{"a", "b"} {
		// Initial attempt plus two retries.
		if attempts[item] != 3 {
			t.Errorf("item %s: expected 3 attempts, got %d", item, attempts[item])
		}
	}
}

func TestRunBatch_LinearBackoffSpacing(t *testing.T) {
	const delay = 30 * time.Millisecond
	var times []time.Time
	var mu sync.Mutex

	_, err := RunBatch(context.Background(), []string{"x"}, func(ctx context.Context, item string) (string, error) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		return "", errors.New("fail")
	}, WithBatchRetries(2), WithRetryDelay(delay))

	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(times) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(times))
	}
	// Linear backoff: first gap >= delay, second gap >= 2*delay.
	if gap := times[1].Sub(times[0]); gap < delay {
		t.Errorf("first retry too early: %v < %v", gap, delay)
	}
	if gap := times[2].Sub(times[1]); gap < 2*delay {
		t.Errorf("second retry too early: %v < %v", gap, 2*delay)
	}
}

func TestRunBatch_BoundedConcurrency(t *testing.T) {
	var current, peak atomic.Int32
	items := make([]int, 12)

	_, err := RunBatch(context.Background(), items, func(ctx context.Context, n int) (int, error) {
		c := current.Add(1)
		for {
			old := peak.Load()
			if c <= old || peak.CompareAndSwap(old, c) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return n, nil
	}, WithBatchConcurrency(2))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if peak.Load() > 2 {
		t.Errorf("concurrency bound violated: peak %d", peak.Load())
	}
}

func TestRunBatch_ExponentialBackoffOption(t *testing.T) {
	var attempts atomic.Int32
	start := time.Now()

	_, err := RunBatch(context.Background(), []int{1}, func(ctx context.Context, n int) (int, error) {
		attempts.Add(1)
		return 0, errors.New("fail")
	}, WithBatchRetries(2), WithRetryDelay(10*time.Millisecond),
		WithBackoff(algorithms.BackoffExponential, 0))

	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
	// 10ms + 20ms of backoff at minimum.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("backoff not applied: run took %v", elapsed)
	}
}
