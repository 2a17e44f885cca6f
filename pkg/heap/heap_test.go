package heap

import "testing"

func TestPushPopOrdering(t *testing.T) {
	h := New()
	due := []int64{300, 100, 200, 100, 50}
	for _, d := range due {
		h.Push(&Entry{DueAtMs: d})
	}

	var got []int64
	for h.Len() > 0 {
		e, ok := h.Pop()
		if !ok {
			t.Fatal("Pop reported empty while Len() > 0")
		}
		got = append(got, e.DueAtMs)
	}

	want := []int64{50, 100, 100, 200, 300}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %d, want %d (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestPopEmptyReturnsFalse(t *testing.T) {
	h := New()
	if _, ok := h.Pop(); ok {
		t.Error("Pop on empty heap should report false")
	}
	if _, ok := h.Peek(); ok {
		t.Error("Peek on empty heap should report false")
	}
}

func TestTieBreakByInsertionOrder(t *testing.T) {
	h := New()
	h.Push(&Entry{TriggerID: "a", DueAtMs: 100})
	h.Push(&Entry{TriggerID: "b", DueAtMs: 100})
	h.Push(&Entry{TriggerID: "c", DueAtMs: 100})

	for _, want := range []string{"a", "b", "c"} {
		e, _ := h.Pop()
		if e.TriggerID != want {
			t.Errorf("got %s, want %s", e.TriggerID, want)
		}
	}
}

func TestRemoveByPredicate(t *testing.T) {
	h := New()
	h.Push(&Entry{TriggerID: "keep", DueAtMs: 10})
	h.Push(&Entry{TriggerID: "drop", DueAtMs: 20})
	h.Push(&Entry{TriggerID: "drop", DueAtMs: 30})
	h.Push(&Entry{TriggerID: "keep", DueAtMs: 40})

	h.Remove(func(e *Entry) bool { return e.TriggerID == "drop" })

	if h.Len() != 2 {
		t.Fatalf("got %d remaining entries, want 2", h.Len())
	}
	for h.Len() > 0 {
		e, _ := h.Pop()
		if e.TriggerID != "keep" {
			t.Errorf("remaining entry %q should have been removed", e.TriggerID)
		}
	}
}

func TestGenerationMismatchIsCallerResponsibility(t *testing.T) {
	h := New()
	h.Push(&Entry{TriggerID: "t1", DueAtMs: 10, Generation: 1})
	h.Push(&Entry{TriggerID: "t1", DueAtMs: 20, Generation: 2})

	currentGen := map[string]uint64{"t1": 2}

	var dispatched []int64
	for h.Len() > 0 {
		e, _ := h.Pop()
		if e.Generation != currentGen[e.TriggerID] {
			continue // stale, discarded
		}
		dispatched = append(dispatched, e.DueAtMs)
	}

	if len(dispatched) != 1 || dispatched[0] != 20 {
		t.Errorf("expected only the current-generation entry (20) to dispatch, got %v", dispatched)
	}
}
