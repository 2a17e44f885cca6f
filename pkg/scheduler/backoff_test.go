package scheduler

import (
	"testing"
	"time"
)

func TestExponentialBackoffWithJitterStaysWithinCap(t *testing.T) {
	backoff := ExponentialBackoffWithJitter(time.Second, 10*time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoff(attempt)
		if d < 0 {
			t.Fatalf("attempt %d: backoff went negative: %v", attempt, d)
		}
		// jitter is +/-20%, so allow some headroom above the nominal cap.
		if d > 12*time.Second {
			t.Fatalf("attempt %d: backoff %v exceeded capped bound", attempt, d)
		}
	}
}

func TestExponentialBackoffWithJitterGrowsWithAttempt(t *testing.T) {
	backoff := ExponentialBackoffWithJitter(time.Second, time.Hour)
	first := backoff(1)
	fifth := backoff(5)
	if fifth <= first {
		t.Fatalf("expected backoff to grow with attempt, got first=%v fifth=%v", first, fifth)
	}
}
