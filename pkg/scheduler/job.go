// Package scheduler implements the time-ordered dispatch engine: job
// registration, trigger scheduling, admission gating, run execution, retry
// and misfire handling, and graceful shutdown.
package scheduler

import (
	"time"

	"tickforge/pkg/ratelimit"
	"tickforge/pkg/resilience"
)

// HandlerFunc is a job's unit of work. It receives a JobHandlerContext and
// returns a result value or an error; the runner classifies the outcome.
type HandlerFunc func(ctx *JobHandlerContext) (any, error)

// ShouldRetryFunc decides whether a given failure warrants another attempt.
// A nil ShouldRetryFunc means "always retry until maxAttempts".
type ShouldRetryFunc func(err error) bool

// BackoffFunc computes the delay before the next attempt, given the
// 1-based attempt number that just failed.
type BackoffFunc func(attempt int) time.Duration

// RetryPolicy controls how a failed run is retried.
type RetryPolicy struct {
	MaxAttempts int
	ShouldRetry ShouldRetryFunc
	Backoff     BackoffFunc
}

// ExponentialBackoff returns a BackoffFunc computing
// baseDelay * factor^(attempt-1), with no jitter. The dispatcher uses the
// returned delay as is; ExponentialBackoffWithJitter is the jittered
// variant.
func ExponentialBackoff(baseDelay time.Duration, factor float64) BackoffFunc {
	return func(attempt int) time.Duration {
		d := float64(baseDelay)
		for i := 1; i < attempt; i++ {
			d *= factor
		}
		return time.Duration(d)
	}
}

// Job is a registered unit of schedulable work. Immutable after
// registration — rescheduling happens at the trigger level, never by
// mutating the Job.
type Job struct {
	Name        string
	Handler     HandlerFunc
	Concurrency int // 0 means default of 1
	RateLimit   *ratelimit.Config
	TimeoutMs   int64
	Retry       *RetryPolicy
	Breaker     *resilience.Config
}

func (j Job) effectiveConcurrency() int {
	if j.Concurrency <= 0 {
		return 1
	}
	return j.Concurrency
}
