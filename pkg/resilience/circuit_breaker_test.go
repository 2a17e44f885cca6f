package resilience_test

import (
	"errors"
	"testing"
	"time"

	"tickforge/pkg/clock"
	. "tickforge/pkg/resilience"
)

func TestCircuitBreaker_InitialState(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	cb := New("test", clk, DefaultConfig())

	if cb.State() != Closed {
		t.Errorf("expected initial state to be Closed, got %v", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	config := Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		OpenTimeoutMs:       100,
		HalfOpenMaxRequests: 1,
	}
	cb := New("test", clk, config)

	for i := 0; i < 3; i++ {
		if !cb.Allow() {
			t.Fatalf("request %d should have been admitted before the circuit opens", i+1)
		}
		cb.Report(errors.New("test error"))
	}

	if cb.State() != Open {
		t.Errorf("expected state to be Open after %d failures, got %v", config.FailureThreshold, cb.State())
	}
}

func TestCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	config := Config{
		FailureThreshold:    1,
		SuccessThreshold:    1,
		OpenTimeoutMs:       1000,
		HalfOpenMaxRequests: 1,
	}
	cb := New("test", clk, config)

	cb.Allow()
	cb.Report(errors.New("test error"))

	if cb.Allow() {
		t.Error("expected Allow to reject while the circuit is open")
	}
}

func TestCircuitBreaker_TransitionsToHalfOpen(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	config := Config{
		FailureThreshold:    1,
		SuccessThreshold:    1,
		OpenTimeoutMs:       50,
		HalfOpenMaxRequests: 1,
	}
	cb := New("test", clk, config)

	cb.Allow()
	cb.Report(errors.New("test error"))

	clk.Advance(60 * time.Millisecond)

	if cb.State() != HalfOpen {
		t.Errorf("expected state to be HalfOpen after the timeout elapses, got %v", cb.State())
	}
}

func TestCircuitBreaker_ClosesAfterSuccessInHalfOpen(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	config := Config{
		FailureThreshold:    1,
		SuccessThreshold:    1,
		OpenTimeoutMs:       50,
		HalfOpenMaxRequests: 2,
	}
	cb := New("test", clk, config)

	cb.Allow()
	cb.Report(errors.New("test error"))

	clk.Advance(60 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("half-open probe should be admitted")
	}
	cb.Report(nil)

	if cb.State() != Closed {
		t.Errorf("expected state to be Closed after success in HalfOpen, got %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenRejectsBeyondMaxRequests(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	config := Config{
		FailureThreshold:    1,
		SuccessThreshold:    5,
		OpenTimeoutMs:       50,
		HalfOpenMaxRequests: 1,
	}
	cb := New("test", clk, config)

	cb.Allow()
	cb.Report(errors.New("test error"))
	clk.Advance(60 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("first half-open probe should be admitted")
	}
	if cb.Allow() {
		t.Error("second concurrent half-open probe should be rejected beyond HalfOpenMaxRequests")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	config := Config{
		FailureThreshold:    1,
		SuccessThreshold:    1,
		OpenTimeoutMs:       1000,
		HalfOpenMaxRequests: 1,
	}
	cb := New("test", clk, config)

	cb.Allow()
	cb.Report(errors.New("test error"))
	cb.Reset()

	if cb.State() != Closed {
		t.Errorf("expected state to be Closed after Reset, got %v", cb.State())
	}
}

func TestCircuitBreaker_Snapshot(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	cb := New("test-metrics", clk, DefaultConfig())

	snap := cb.Snapshot()

	if snap.Name != "test-metrics" {
		t.Errorf("expected name to be 'test-metrics', got %v", snap.Name)
	}
	if snap.State != "closed" {
		t.Errorf("expected state to be 'closed', got %v", snap.State)
	}
}

func TestNoOpAlwaysAllowsAndIgnoresReport(t *testing.T) {
	var g NoOp
	for i := 0; i < 10; i++ {
		if !g.Allow() {
			t.Fatalf("NoOp should always admit, failed at %d", i)
		}
	}
	g.Report(errors.New("ignored"))
	if !g.Allow() {
		t.Error("NoOp should still admit after Report with an error")
	}
}

func TestRegistryReturnsNoOpForUnconfiguredJob(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	r := NewRegistry(clk)

	g := r.Get("unconfigured-job")
	if !g.Allow() {
		t.Error("unconfigured job should get a NoOp gate that always admits")
	}
}
