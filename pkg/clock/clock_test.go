package clock

import (
	"testing"
	"time"
)

func TestVirtualSleepZeroDoesNotResolveSynchronously(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	ch := v.Sleep(0)

	select {
	case <-ch:
		t.Fatal("sleep(0) resolved before any Advance")
	default:
	}

	v.Advance(0)

	select {
	case <-ch:
	default:
		t.Fatal("sleep(0) did not resolve after Advance(0)")
	}
}

func TestVirtualAdvanceResolvesAllDueWaiters(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	var order []int
	chans := make([]<-chan time.Time, 3)
	chans[2] = v.Sleep(300 * time.Millisecond)
	chans[0] = v.Sleep(100 * time.Millisecond)
	chans[1] = v.Sleep(200 * time.Millisecond)

	v.Advance(300 * time.Millisecond)

	for i, ch := range chans {
		select {
		case <-ch:
			order = append(order, i)
		default:
			t.Errorf("waiter %d did not resolve", i)
		}
	}
	if len(order) != 3 {
		t.Fatalf("expected all 3 waiters to resolve, got %d", len(order))
	}
}

func TestVirtualPendingTimers(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	v.Sleep(10 * time.Millisecond)
	v.Sleep(20 * time.Millisecond)
	if got := v.PendingTimers(); got != 2 {
		t.Fatalf("got %d pending timers, want 2", got)
	}
	v.Advance(15 * time.Millisecond)
	if got := v.PendingTimers(); got != 1 {
		t.Fatalf("got %d pending timers after partial advance, want 1", got)
	}
}

func TestVirtualNeverRewinds(t *testing.T) {
	v := NewVirtual(time.Unix(100, 0))
	v.SetTo(time.Unix(50, 0))
	if !v.Now().Equal(time.Unix(100, 0)) {
		t.Errorf("clock rewound to %v, want it to stay at 100", v.Now())
	}
}
