package algorithms

import "time"

// BackoffStrategy defines how retry delays are calculated.
//
// Note: This interface is exported so the chunk package can accept a
// strategy through its options, but implementations remain internal and
// are obtained through NewBackoffStrategy.
type BackoffStrategy interface {
	// NextDelay calculates the delay before the next retry attempt.
	// attemptNumber is 0-indexed (0 = first retry after initial failure).
	// lastError can be used by adaptive strategies to adjust delays.
	NextDelay(attemptNumber int, lastError error) time.Duration

	// Reset resets any internal state. Called when starting a new item.
	Reset()
}
