// Package semaphore implements the buffered-channel concurrency counters
// that cap simultaneous runs per job and across the whole scheduler.
package semaphore

import "sync"

// Weighted is a non-blocking counting semaphore backed by a buffered
// channel, the same acquire/release-token idiom the executor's worker pool
// uses, except TryAcquire never blocks — admission is a gate the dispatch
// loop checks and moves past, not something it waits on.
type Weighted struct {
	tokens chan struct{}
}

// NewWeighted creates a semaphore with the given capacity. A capacity of 0
// means unlimited: TryAcquire always succeeds and Release is a no-op.
func NewWeighted(capacity int) *Weighted {
	if capacity <= 0 {
		return &Weighted{}
	}
	return &Weighted{tokens: make(chan struct{}, capacity)}
}

// TryAcquire attempts to take one slot, returning false immediately if none
// are free.
func (w *Weighted) TryAcquire() bool {
	if w.tokens == nil {
		return true
	}
	select {
	case w.tokens <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns one slot. Calling Release without a matching successful
// TryAcquire is a caller bug and blocks forever receiving from an empty
// channel.
func (w *Weighted) Release() {
	if w.tokens == nil {
		return
	}
	<-w.tokens
}

// InUse reports the number of slots currently held, for the active-runs
// gauge.
func (w *Weighted) InUse() int {
	if w.tokens == nil {
		return 0
	}
	return len(w.tokens)
}

// Registry owns one semaphore per job plus a global semaphore shared across
// every job, mirroring ratelimit.Registry's per-job-then-global gating
// order.
type Registry struct {
	mu     sync.RWMutex
	global *Weighted
	perJob map[string]*Weighted
}

func NewRegistry(globalCapacity int) *Registry {
	return &Registry{
		global: NewWeighted(globalCapacity),
		perJob: make(map[string]*Weighted),
	}
}

func (r *Registry) Configure(job string, capacity int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perJob[job] = NewWeighted(capacity)
}

func (r *Registry) Remove(job string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.perJob, job)
}

// TryAcquire acquires the job's slot first, then the global slot. If the
// global acquire fails, the job slot already taken is released so a
// globally-throttled job doesn't leak its own concurrency budget.
func (r *Registry) TryAcquire(job string) bool {
	r.mu.RLock()
	sem := r.perJob[job]
	r.mu.RUnlock()

	if sem != nil {
		if !sem.TryAcquire() {
			return false
		}
		if !r.global.TryAcquire() {
			sem.Release()
			return false
		}
		return true
	}
	return r.global.TryAcquire()
}

// Release returns the job's slot and the global slot acquired by a matching
// TryAcquire.
func (r *Registry) Release(job string) {
	r.mu.RLock()
	sem := r.perJob[job]
	r.mu.RUnlock()

	if sem != nil {
		sem.Release()
	}
	r.global.Release()
}

// GlobalInUse reports the number of runs currently occupying the global
// semaphore, for the scheduler_active_runs_global gauge.
func (r *Registry) GlobalInUse() int {
	return r.global.InUse()
}

// JobInUse reports the number of runs currently occupying a job's own
// semaphore, for the scheduler_active_runs{job} gauge.
func (r *Registry) JobInUse(job string) int {
	r.mu.RLock()
	sem := r.perJob[job]
	r.mu.RUnlock()
	if sem == nil {
		return 0
	}
	return sem.InUse()
}
