package scheduler

import (
	"math"
	"math/rand/v2"
	"time"
)

// ExponentialBackoffWithJitter returns a BackoffFunc computing
// baseDelay * 2^(attempt-1), capped at maxDelay, with +/-20% jitter applied
// to avoid a thundering herd when many triggers of the same job fail
// together.
func ExponentialBackoffWithJitter(baseDelay, maxDelay time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		backoff := float64(baseDelay) * math.Pow(2, float64(attempt-1))
		if backoff > float64(maxDelay) {
			backoff = float64(maxDelay)
		}

		jitter := (rand.Float64() - 0.5) * 0.4 * backoff
		backoff += jitter
		if backoff < 0 {
			backoff = 0
		}

		return time.Duration(backoff)
	}
}
