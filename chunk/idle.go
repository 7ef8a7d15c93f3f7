package chunk

import (
	"context"
	"sync"
	"time"
)

const (
	// timerYieldDelay is how long the fallback strategy sleeps before
	// reporting a synthetic idle window.
	timerYieldDelay = time.Millisecond
	// timerYieldBudget is the synthetic remaining-budget estimate reported
	// by the fallback strategy.
	timerYieldBudget = 50 * time.Millisecond
)

// IdleSignal is a host-provided idle-notification primitive. It registers
// callback to be invoked once, when the host has spare capacity, passing
// the remaining time budget for that window. The returned cancel func
// deregisters the callback if it has not fired yet.
//
// Hosts without such a primitive simply don't set one; the engine falls
// back to a timer simulation.
type IdleSignal func(callback func(budget time.Duration)) (cancel func())

// YieldStrategy decides when the engine may dispatch its next chunk.
// Implementations never fail on their own; the only error they return is
// the context's.
type YieldStrategy interface {
	// YieldUntilIdle blocks until the host reports spare capacity and
	// returns the remaining time budget for the idle window.
	YieldUntilIdle(ctx context.Context) (budget time.Duration, err error)
	// Dispose cancels any pending callback handles. The strategy must not
	// be used afterwards.
	Dispose()
}

// newYieldStrategy selects the strategy at construction time: the host
// signal when one exists, the timer simulation otherwise.
func newYieldStrategy(signal IdleSignal) YieldStrategy {
	if signal != nil {
		return &hostYield{
			signal:  signal,
			pending: make(map[uint64]func()),
		}
	}
	return &timerYield{
		delay:  timerYieldDelay,
		budget: timerYieldBudget,
	}
}

// hostYield defers to the host's idle-notification primitive.
type hostYield struct {
	signal IdleSignal

	mu       sync.Mutex
	pending  map[uint64]func()
	nextID   uint64
	disposed bool
}

func (h *hostYield) YieldUntilIdle(ctx context.Context) (time.Duration, error) {
	idle := make(chan time.Duration, 1)
	cancel := h.signal(func(budget time.Duration) {
		select {
		case idle <- budget:
		default:
		}
	})

	id, ok := h.track(cancel)
	if !ok {
		// Disposed between calls; behave as an immediate zero-budget window.
		cancel()
		return 0, nil
	}
	defer h.untrack(id)

	select {
	case budget := <-idle:
		return budget, nil
	case <-ctx.Done():
		cancel()
		return 0, ctx.Err()
	}
}

func (h *hostYield) Dispose() {
	h.mu.Lock()
	h.disposed = true
	cancels := make([]func(), 0, len(h.pending))
	for _, cancel := range h.pending {
		cancels = append(cancels, cancel)
	}
	h.pending = map[uint64]func(){}
	h.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (h *hostYield) track(cancel func()) (uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return 0, false
	}
	h.nextID++
	h.pending[h.nextID] = cancel
	return h.nextID, true
}

func (h *hostYield) untrack(id uint64) {
	h.mu.Lock()
	delete(h.pending, id)
	h.mu.Unlock()
}

// timerYield simulates idle windows with a short fixed delay and reports a
// synthetic remaining-budget estimate.
type timerYield struct {
	delay  time.Duration
	budget time.Duration
}

func (t *timerYield) YieldUntilIdle(ctx context.Context) (time.Duration, error) {
	timer := time.NewTimer(t.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return t.budget, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Dispose is a no-op: the timer strategy holds no handles between calls.
func (t *timerYield) Dispose() {}
