package algorithms

import "time"

const (
	maxBackoffAttempts = 63 // Prevent overflow in the exponential calculation
)

// linearBackoff implements incremental linear backoff.
// Delay formula: initialDelay * (attemptNumber + 1)
//
// Attempt 0: 1x initialDelay
// Attempt 1: 2x initialDelay
// Attempt 2: 3x initialDelay
// ...until maxDelay is reached
//
// Linear growth suits batches of remote operations where failures are
// usually transient throttling: the delay grows fast enough to shed load
// but keeps the total wall time of a bounded retry budget predictable.
type linearBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
}

// newLinearBackoff creates a new linear backoff strategy.
func newLinearBackoff(initialDelay, maxDelay time.Duration) *linearBackoff {
	return &linearBackoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
	}
}

// NextDelay calculates the linear backoff delay for the given attempt number.
func (lb *linearBackoff) NextDelay(attemptNumber int, lastError error) time.Duration {
	if attemptNumber < 0 {
		return 0
	}

	delay := time.Duration(attemptNumber+1) * lb.initialDelay
	if lb.maxDelay > 0 && (delay > lb.maxDelay || delay < 0) {
		return lb.maxDelay
	}
	return delay
}

// Reset does nothing for linear backoff as it has no internal state.
func (lb *linearBackoff) Reset() {
	// No state to reset
}

// exponentialBackoff implements simple exponential backoff.
// Delay formula: initialDelay * 2^attemptNumber
//
// Attempt 0: 1x initialDelay
// Attempt 1: 2x initialDelay
// Attempt 2: 4x initialDelay
// ...until maxDelay is reached
type exponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
}

// newExponentialBackoff creates a new exponential backoff strategy.
func newExponentialBackoff(initialDelay, maxDelay time.Duration) *exponentialBackoff {
	return &exponentialBackoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
	}
}

// NextDelay calculates the exponential backoff delay for the given attempt
// number. Uses bit shifting (2^n) instead of math.Pow.
func (eb *exponentialBackoff) NextDelay(attemptNumber int, lastError error) time.Duration {
	return calcExponentialDelay(attemptNumber, eb.initialDelay, eb.maxDelay)
}

// Reset does nothing for exponential backoff as it has no internal state.
func (eb *exponentialBackoff) Reset() {
	// No state to reset
}

func calcExponentialDelay(attemptNumber int, initialDelay, maxDelay time.Duration) time.Duration {
	if attemptNumber < 0 {
		return 0
	}

	if attemptNumber >= maxBackoffAttempts {
		return maxDelay
	}

	backoffFactor := int64(1) << uint(attemptNumber)
	delay := time.Duration(backoffFactor) * initialDelay

	if maxDelay > 0 && (delay > maxDelay || delay < 0) {
		return maxDelay
	}
	return delay
}
