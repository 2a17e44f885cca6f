package scheduler

import (
	"time"

	"tickforge/pkg/clock"
	"tickforge/pkg/logger"
	"tickforge/pkg/metrics"
	"tickforge/pkg/ratelimit"

	"github.com/prometheus/client_golang/prometheus"
)

// Options configures a Scheduler at construction. Zero values pick sensible
// defaults: a system clock, a no-op logger, an isolated metrics registry,
// an in-memory store, no global rate limit, unlimited global concurrency,
// and a 1s misfire tolerance. GlobalRateLimit left nil means no global
// limiter is configured at all; an explicit &ratelimit.Config{} instead
// disables every occurrence (see ratelimit.Bucket.Allow).
type Options struct {
	MaxConcurrentRuns  int
	GlobalRateLimit    *ratelimit.Config
	MisfireToleranceMs int64

	// DistributedGlobalRateLimit, if set, replaces the in-memory global
	// bucket with a Redis-backed one shared across every scheduler process
	// pointed at the same Redis instance. Its rate/burst are the Config it
	// was built with by NewRedisBucket; the scheduler does not apply
	// GlobalRateLimit to it.
	DistributedGlobalRateLimit *ratelimit.RedisBucket

	Clock   clock.Clock
	Logger  logger.Logger
	Metrics *metrics.Metrics
	Store   TriggerStore
}

func (o Options) withDefaults() Options {
	if o.MisfireToleranceMs == 0 {
		o.MisfireToleranceMs = 1000
	}
	if o.Clock == nil {
		o.Clock = clock.NewSystem()
	}
	if o.Logger == nil {
		o.Logger = logger.NewNoOp()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New(prometheus.NewRegistry())
	}
	if o.Store == nil {
		o.Store = NewInMemoryStore()
	}
	return o
}

// Duration parsing helper, matching the distilled spec's duration-string
// contract: decimal integer -> milliseconds; "<int><unit>" with
// unit in {ms,s,m,h,d,w} -> milliseconds; empty or unparseable -> error.
func ParseDuration(s string) (time.Duration, error) {
	return parseDuration(s)
}
