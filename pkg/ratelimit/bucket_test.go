package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"tickforge/pkg/clock"
)

// fakeDistributedBucket lets Registry's distributed-global path be tested
// without a live Redis instance.
type fakeDistributedBucket struct {
	allowed bool
	err     error
}

func (f *fakeDistributedBucket) Allow(ctx context.Context, nowMs int64) (bool, error) {
	return f.allowed, f.err
}

func TestBucketAllowsWithinBurst(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	b := NewBucket(clk, Config{RatePerSecond: 1, Burst: 5})

	for i := 0; i < 5; i++ {
		if !b.Allow() {
			t.Errorf("request %d should be allowed within burst", i+1)
		}
	}
}

func TestBucketBlocksExcessRequests(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	b := NewBucket(clk, Config{RatePerSecond: 1, Burst: 2})

	b.Allow()
	b.Allow()

	if b.Allow() {
		t.Error("third request should be blocked after burst exhausted")
	}
}

func TestBucketRefillsOverTime(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	b := NewBucket(clk, Config{RatePerSecond: 100, Burst: 1})

	b.Allow()
	if b.Allow() {
		t.Fatal("bucket should be empty immediately after burst use")
	}

	clk.Advance(20 * time.Millisecond)

	if !b.Allow() {
		t.Error("token should have refilled after advancing the clock")
	}
}

func TestBucketZeroConfigDisablesForever(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	b := NewBucket(clk, Config{})

	for i := 0; i < 3; i++ {
		if b.Allow() {
			t.Fatalf("an explicit zero-value config should refuse every acquisition, allowed request %d", i+1)
		}
	}

	clk.Advance(time.Hour)
	if b.Allow() {
		t.Error("a zero-rate bucket must never refill regardless of elapsed time")
	}
}

func TestRegistryNilGlobalConfigSkipsGlobalGate(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	r := NewRegistry(clk, nil)
	r.Configure("job-a", Config{RatePerSecond: 1, Burst: 1})

	if !r.Allow("job-a") {
		t.Fatal("first request for job-a should be allowed")
	}
	if r.Allow("job-a") {
		t.Error("job-a's own burst of 1 should block the second request")
	}

	// job-b has neither a per-job bucket nor a global one configured.
	for i := 0; i < 5; i++ {
		if !r.Allow("job-b") {
			t.Fatalf("job-b with no limiter configured at all should never be throttled, blocked at request %d", i+1)
		}
	}
}

func TestRegistryPerJobAndGlobalBothGate(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	r := NewRegistry(clk, &Config{RatePerSecond: 1, Burst: 10})
	r.Configure("job-a", Config{RatePerSecond: 1, Burst: 1})

	if !r.Allow("job-a") {
		t.Fatal("first request for job-a should be allowed")
	}
	if r.Allow("job-a") {
		t.Error("job-a's own burst of 1 should block the second request")
	}

	// job-b has no per-job bucket configured, so only the global bucket gates it.
	if !r.Allow("job-b") {
		t.Error("job-b without a configured bucket should pass through to the global bucket")
	}
}

func TestRegistryExhaustedGlobalBlocksConfiguredJob(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	r := NewRegistry(clk, &Config{RatePerSecond: 1, Burst: 1})
	r.Configure("job-a", Config{RatePerSecond: 1, Burst: 10})

	if !r.Allow("job-a") {
		t.Fatal("first request should drain the global bucket's only token")
	}
	if r.Allow("job-a") {
		t.Error("job-a has per-job budget left, but the exhausted global bucket should still block it")
	}
}

func TestRegistryDistributedGlobalReplacesInMemoryOne(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	r := NewRegistry(clk, &Config{RatePerSecond: 1, Burst: 10})
	r.UseDistributedGlobal(&fakeDistributedBucket{allowed: false})

	if r.Allow("job-a") {
		t.Error("a refusing distributed global bucket should block even though the in-memory global bucket has budget")
	}
}

func TestRegistryDistributedGlobalFailsOpenOnError(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	r := NewRegistry(clk, nil)
	r.UseDistributedGlobal(&fakeDistributedBucket{err: errors.New("redis: connection refused")})

	if !r.Allow("job-a") {
		t.Error("a Redis error should fail open rather than stall every job")
	}
}

func TestRegistryRemoveDropsJobBucket(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	r := NewRegistry(clk, &Config{RatePerSecond: 1, Burst: 10})
	r.Configure("job-a", Config{RatePerSecond: 1, Burst: 1})
	r.Allow("job-a")
	r.Remove("job-a")

	if !r.Allow("job-a") {
		t.Error("after Remove, job-a should fall through to the (unexhausted) global bucket")
	}
}
