package algorithms

import "time"

// BackoffType defines the retry backoff algorithm to use.
type BackoffType int

const (
	// BackoffLinear grows the delay by initialDelay each attempt (default
	// for batch operations).
	BackoffLinear BackoffType = iota
	// BackoffExponential doubles the delay each attempt.
	BackoffExponential
)

// NewBackoffStrategy creates a backoff strategy based on the configuration.
// This is the internal factory function used by the chunk package.
func NewBackoffStrategy(
	backoffType BackoffType,
	initialDelay, maxDelay time.Duration,
) BackoffStrategy {
	switch backoffType {
	case BackoffExponential:
		return newExponentialBackoff(initialDelay, maxDelay)

	default:
		return newLinearBackoff(initialDelay, maxDelay)
	}
}
