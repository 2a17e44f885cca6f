// Package resilience implements the scheduler's per-job circuit breaker.
package resilience

import (
	"sync"

	"tickforge/pkg/clock"
)

// State represents the state of a circuit breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration, matching a job's optional
// breaker block.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening
	// the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of successes needed in half-open to
	// close the circuit again.
	SuccessThreshold int
	// OpenTimeoutMs is how long the circuit stays open before allowing a
	// half-open probe.
	OpenTimeoutMs int64
	// HalfOpenMaxRequests caps how many probes are let through while
	// half-open.
	HalfOpenMaxRequests int
}

// DefaultConfig returns sensible defaults for a job that opts into a breaker
// without tuning it.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		OpenTimeoutMs:       30_000,
		HalfOpenMaxRequests: 3,
	}
}

// CircuitBreaker gates admission with Allow and records outcomes with
// Report. Unlike the Execute(ctx, fn)-wrapping style, the runner calls Allow
// before invoking the handler and Report only once the outcome is classified
// (skipping canceled runs), so the two halves are split instead of wrapped
// around a single call.
type CircuitBreaker struct {
	name   string
	clock  clock.Clock
	config Config

	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	halfOpenInFlight int
	lastFailureMs    int64
}

func New(name string, clk clock.Clock, config Config) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		clock:  clk,
		config: config,
		state:  Closed,
	}
}

// State reports the breaker's current state, resolving an expired Open
// timeout to HalfOpen as a read-only view (it does not itself consume a
// half-open slot — only Allow does that).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

func (cb *CircuitBreaker) currentState() State {
	if cb.state == Open && cb.clock.NowMs()-cb.lastFailureMs >= cb.config.OpenTimeoutMs {
		return HalfOpen
	}
	return cb.state
}

// Allow reports whether a run may be launched. Called by the runner before
// invoking the job handler.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case Closed:
		return true
	case Open:
		return false
	case HalfOpen:
		if cb.state == Open {
			// First probe since the timeout elapsed: transition now.
			cb.state = HalfOpen
			cb.halfOpenInFlight = 0
		}
		if cb.halfOpenInFlight >= cb.config.HalfOpenMaxRequests {
			return false
		}
		cb.halfOpenInFlight++
		return true
	default:
		return true
	}
}

// Report records the outcome of a run that Allow admitted. Canceled runs
// should not be reported — cancellation reflects scheduler shutdown, not
// handler health.
func (cb *CircuitBreaker) Report(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.successes = 0
	cb.lastFailureMs = cb.clock.NowMs()

	switch cb.currentState() {
	case Closed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = Open
			cb.halfOpenInFlight = 0
		}
	case HalfOpen:
		cb.state = Open
		cb.halfOpenInFlight = 0
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.currentState() {
	case Closed:
		cb.failures = 0
	case HalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = Closed
			cb.failures = 0
			cb.successes = 0
			cb.halfOpenInFlight = 0
		}
	}
}

// Reset returns the breaker to its initial closed state, for tests and
// administrative intervention.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = Closed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenInFlight = 0
}

// Snapshot is a point-in-time view of breaker state for the admin API and
// tests.
type Snapshot struct {
	Name      string
	State     string
	Failures  int
	Successes int
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:      cb.name,
		State:     cb.currentState().String(),
		Failures:  cb.failures,
		Successes: cb.successes,
	}
}

// NoOp is a breaker substitute for jobs with no breaker config: Allow always
// succeeds and Report is a no-op, so call sites never need a nil check.
type NoOp struct{}

func (NoOp) Allow() bool    { return true }
func (NoOp) Report(error)   {}
func (NoOp) State() State   { return Closed }

// Gate is the interface the runner consults; both *CircuitBreaker and NoOp
// satisfy it.
type Gate interface {
	Allow() bool
	Report(error)
}

// Registry owns one breaker per job that opted into one.
type Registry struct {
	mu    sync.RWMutex
	clock clock.Clock
	gates map[string]Gate
}

func NewRegistry(clk clock.Clock) *Registry {
	return &Registry{clock: clk, gates: make(map[string]Gate)}
}

// Configure installs a real breaker for a job. Jobs never configured here
// get NoOp from Get.
func (r *Registry) Configure(job string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gates[job] = New(job, r.clock, cfg)
}

func (r *Registry) Remove(job string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.gates, job)
}

func (r *Registry) Get(job string) Gate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if g, ok := r.gates[job]; ok {
		return g
	}
	return NoOp{}
}
