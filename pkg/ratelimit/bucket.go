// Package ratelimit implements the per-job and global token-bucket limiters
// that gate dispatch admission.
package ratelimit

import (
	"context"
	"sync"

	"tickforge/pkg/clock"
)

// Config describes a single token bucket: refill rate in tokens per second
// and the maximum burst it can hold.
type Config struct {
	RatePerSecond float64
	Burst         float64
}

// Bucket is a single token bucket, refilled lazily on each Allow call rather
// than by a background goroutine — there is nothing to clean up and no
// ticker to leak.
type Bucket struct {
	mu         sync.Mutex
	clock      clock.Clock
	rate       float64
	max        float64
	tokens     float64
	lastRefill int64 // unix ms
}

// NewBucket creates a bucket starting full, so the first burst of activity
// after startup is never throttled purely by cold-start.
func NewBucket(clk clock.Clock, cfg Config) *Bucket {
	return &Bucket{
		clock:      clk,
		rate:       cfg.RatePerSecond,
		max:        cfg.Burst,
		tokens:     cfg.Burst,
		lastRefill: clk.NowMs(),
	}
}

// Allow attempts to withdraw one token. A Bucket only exists for a job or
// for the global limit once a Config has actually been configured — an
// explicit zero-valued Config (rate 0, burst 0) means the caller wants every
// acquisition to fail forever, not "unlimited"; "no limiter configured" is
// instead represented by never constructing a Bucket at all (see
// Registry.Allow and Registry.Configure's callers).
func (b *Bucket) Allow() bool {
	return b.AllowN(1)
}

// AllowN attempts to withdraw n tokens atomically.
func (b *Bucket) AllowN(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.NowMs()
	elapsedSec := float64(now-b.lastRefill) / 1000.0
	if elapsedSec > 0 {
		b.tokens += elapsedSec * b.rate
		if b.tokens > b.max {
			b.tokens = b.max
		}
		b.lastRefill = now
	}

	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// Available reports the current token count, for metrics and tests. It does
// not perform a refill pass.
func (b *Bucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// distributedBucket is satisfied by *RedisBucket. Declaring it here lets
// Registry's distributed-global path be unit-tested against a fake without
// a live Redis instance.
type distributedBucket interface {
	Allow(ctx context.Context, nowMs int64) (bool, error)
}

// Registry owns one bucket per job plus an optional global bucket shared
// across all jobs. A job with no per-job Config still passes through the
// global check. A nil global Config means no global limiter is configured
// at all, distinct from an explicit &Config{} disabling every occurrence.
type Registry struct {
	mu                sync.RWMutex
	clock             clock.Clock
	global            *Bucket
	distributedGlobal distributedBucket
	perJob            map[string]*Bucket
}

func NewRegistry(clk clock.Clock, global *Config) *Registry {
	r := &Registry{
		clock:  clk,
		perJob: make(map[string]*Bucket),
	}
	if global != nil {
		r.global = NewBucket(clk, *global)
	}
	return r
}

// Configure installs or replaces the bucket for a job.
func (r *Registry) Configure(job string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perJob[job] = NewBucket(r.clock, cfg)
}

// Remove drops a job's bucket, e.g. on UnregisterJob.
func (r *Registry) Remove(job string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.perJob, job)
}

// UseDistributedGlobal swaps the in-memory global bucket for a Redis-backed
// one shared across every scheduler process pointed at the same Redis
// instance, for deployments running more than one dispatcher against the
// same job set. Passing nil reverts to the in-memory global bucket.
func (r *Registry) UseDistributedGlobal(rb distributedBucket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.distributedGlobal = rb
}

// Allow checks the per-job bucket first, then the global bucket. Both must
// have a token available; if the per-job check fails the global bucket is
// never charged, so a throttled job doesn't spuriously drain shared budget.
// Either bucket being unconfigured (nil) passes that check through. A
// distributed global bucket, if configured, replaces the in-memory one; a
// Redis error fails open rather than stalling every job on a Redis outage.
func (r *Registry) Allow(job string) bool {
	r.mu.RLock()
	bucket := r.perJob[job]
	distributed := r.distributedGlobal
	local := r.global
	r.mu.RUnlock()

	if bucket != nil && !bucket.Allow() {
		return false
	}

	if distributed != nil {
		allowed, err := distributed.Allow(context.Background(), r.clock.NowMs())
		if err != nil {
			return true
		}
		return allowed
	}
	if local != nil && !local.Allow() {
		return false
	}
	return true
}
