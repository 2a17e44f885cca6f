// Package heap implements the scheduler's pending-fire priority queue: a
// binary min-heap ordered by due time, using lazy deletion via a generation
// counter instead of linear predicate-removal.
package heap

import "container/heap"

// Entry is a single pending fire, keyed by due time. Generation is bumped
// whenever the owning trigger is rescheduled or canceled; a popped Entry
// whose Generation no longer matches the trigger's current generation is
// stale and should be discarded by the caller instead of dispatched.
type Entry struct {
	TriggerID  string
	DueAtMs    int64
	Generation uint64
	Attempt    int // carried across dispatch for retry occurrences; not persisted

	seq   uint64
	index int
}

// TimerHeap is a min-heap of Entry ordered by DueAtMs, ties broken by
// insertion sequence so that same-instant fires preserve FIFO order.
type TimerHeap struct {
	items []*Entry
	seq   uint64
}

func New() *TimerHeap {
	return &TimerHeap{}
}

// Push inserts an entry and restores the heap property.
func (h *TimerHeap) Push(e *Entry) {
	h.seq++
	e.seq = h.seq
	heap.Push((*innerHeap)(h), e)
}

// Peek returns the earliest-due entry without removing it, and false if empty.
func (h *TimerHeap) Peek() (*Entry, bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	return h.items[0], true
}

// Pop removes and returns the earliest-due entry, and false if empty.
func (h *TimerHeap) Pop() (*Entry, bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	e := heap.Pop((*innerHeap)(h)).(*Entry)
	return e, true
}

// Len reports the number of entries currently in the heap.
func (h *TimerHeap) Len() int {
	return len(h.items)
}

// Remove deletes every entry matching pred. It is O(n) and intended only for
// the rare case (e.g. UnregisterJob with force) where lazy deletion via
// generation mismatch isn't applicable because no replacement entry will ever
// be pushed.
func (h *TimerHeap) Remove(pred func(*Entry) bool) {
	kept := h.items[:0]
	for _, e := range h.items {
		if pred(e) {
			e.index = -1
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(h.items); i++ {
		h.items[i] = nil
	}
	h.items = kept
	// Re-index the survivors and rebuild the heap in one O(n) pass.
	for i, e := range h.items {
		e.index = i
	}
	heap.Init((*innerHeap)(h))
}

// innerHeap adapts TimerHeap to container/heap.Interface.
type innerHeap TimerHeap

func (h *innerHeap) Len() int { return len(h.items) }

func (h *innerHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.DueAtMs == b.DueAtMs {
		return a.seq < b.seq
	}
	return a.DueAtMs < b.DueAtMs
}

func (h *innerHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *innerHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(h.items)
	h.items = append(h.items, e)
}

func (h *innerHeap) Pop() any {
	old := h.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	h.items = old[:n-1]
	return e
}
