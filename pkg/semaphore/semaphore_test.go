package semaphore

import "testing"

func TestWeightedAcquireUpToCapacity(t *testing.T) {
	w := NewWeighted(2)
	if !w.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}
	if !w.TryAcquire() {
		t.Fatal("second acquire should succeed")
	}
	if w.TryAcquire() {
		t.Error("third acquire should fail at capacity 2")
	}
}

func TestWeightedReleaseFreesSlot(t *testing.T) {
	w := NewWeighted(1)
	w.TryAcquire()
	if w.TryAcquire() {
		t.Fatal("should be at capacity")
	}
	w.Release()
	if !w.TryAcquire() {
		t.Error("acquire should succeed again after release")
	}
}

func TestWeightedZeroCapacityIsUnlimited(t *testing.T) {
	w := NewWeighted(0)
	for i := 0; i < 1000; i++ {
		if !w.TryAcquire() {
			t.Fatalf("zero-capacity semaphore should never block, failed at %d", i)
		}
	}
	if w.InUse() != 0 {
		t.Errorf("unlimited semaphore should report 0 in use, got %d", w.InUse())
	}
}

func TestRegistryJobAndGlobalBothGate(t *testing.T) {
	r := NewRegistry(5)
	r.Configure("job-a", 1)

	if !r.TryAcquire("job-a") {
		t.Fatal("first acquire for job-a should succeed")
	}
	if r.TryAcquire("job-a") {
		t.Error("job-a's own capacity of 1 should block the second acquire")
	}
}

func TestRegistryExhaustedGlobalBlocksConfiguredJob(t *testing.T) {
	r := NewRegistry(1)
	r.Configure("job-a", 10)

	if !r.TryAcquire("job-a") {
		t.Fatal("first acquire should take the only global slot")
	}
	if r.TryAcquire("job-a") {
		t.Error("job-a has headroom, but the exhausted global semaphore should still block it")
	}
}

func TestRegistryFailedGlobalAcquireReleasesJobSlot(t *testing.T) {
	r := NewRegistry(1)
	r.Configure("job-a", 10)
	r.Configure("job-b", 10)

	r.TryAcquire("job-a") // takes the only global slot

	if r.TryAcquire("job-b") {
		t.Fatal("job-b should be blocked by the exhausted global semaphore")
	}
	if got := r.JobInUse("job-b"); got != 0 {
		t.Errorf("job-b's own slot should have been released after the global acquire failed, got %d in use", got)
	}
}

func TestRegistryReleaseReturnsBothSlots(t *testing.T) {
	r := NewRegistry(1)
	r.Configure("job-a", 1)

	r.TryAcquire("job-a")
	r.Release("job-a")

	if !r.TryAcquire("job-a") {
		t.Error("after Release, job-a should be able to acquire again")
	}
	if r.GlobalInUse() != 1 {
		t.Errorf("global semaphore should show 1 in use after the second acquire, got %d", r.GlobalInUse())
	}
}
