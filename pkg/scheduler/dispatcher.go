package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tickforge/pkg/clock"
	"tickforge/pkg/cronerrors"
	"tickforge/pkg/events"
	"tickforge/pkg/heap"
	"tickforge/pkg/logger"
	"tickforge/pkg/metrics"
	"tickforge/pkg/ratelimit"
	"tickforge/pkg/resilience"
	"tickforge/pkg/semaphore"

	"github.com/google/uuid"
)

// State is the dispatcher's own lifecycle state, distinct from a run's
// Status or a trigger's TriggerState.
type State string

const (
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

// ShutdownOptions controls how Shutdown winds down in-flight runs.
type ShutdownOptions struct {
	Graceful bool
	GraceMs  int64
}

// ExecuteNowOptions customizes a one-shot immediate trigger.
type ExecuteNowOptions struct {
	RunAt         time.Time // defaults to clock.Now() if zero
	MisfirePolicy MisfirePolicy
	Metadata      map[string]any
	Payload       any
}

// Scheduler is the dispatcher: the orchestrator that registers jobs,
// accepts triggers, watches the timer queue, gates runs through the
// limiter, semaphore, and circuit breaker, delegates to the runner,
// schedules retries and next occurrences, emits events, and coordinates
// shutdown.
type Scheduler struct {
	opts Options

	clock   clock.Clock
	logger  logger.Logger
	metrics *metrics.Metrics
	store   TriggerStore
	events  *events.Bus

	limiters  *ratelimit.Registry
	semaphores *semaphore.Registry
	breakers  *resilience.Registry

	mu   sync.Mutex
	jobs map[string]Job
	heap *heap.TimerHeap
	// generations tracks each trigger's current generation, independent of
	// the store, so the dispatch loop can discard stale heap pops without a
	// store round trip.
	generations map[string]uint64

	runCancels map[string]context.CancelFunc

	state      State
	wakeupCh   chan struct{}
	shutdownCh chan struct{}
	loopDoneCh chan struct{}

	wg sync.WaitGroup
}

// New constructs a Scheduler and starts its dispatch loop.
func New(opts Options) *Scheduler {
	opts = opts.withDefaults()

	s := &Scheduler{
		opts:        opts,
		clock:       opts.Clock,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		store:       opts.Store,
		events:      events.NewBus(),
		limiters:    ratelimit.NewRegistry(opts.Clock, opts.GlobalRateLimit),
		semaphores:  semaphore.NewRegistry(opts.MaxConcurrentRuns),
		breakers:    resilience.NewRegistry(opts.Clock),
		jobs:        make(map[string]Job),
		heap:        heap.New(),
		generations: make(map[string]uint64),
		runCancels:  make(map[string]context.CancelFunc),
		state:       StateRunning,
		wakeupCh:    make(chan struct{}, 1),
		shutdownCh:  make(chan struct{}),
		loopDoneCh:  make(chan struct{}),
	}

	if opts.DistributedGlobalRateLimit != nil {
		s.limiters.UseDistributedGlobal(opts.DistributedGlobalRateLimit)
	}

	s.wg.Add(1)
	go s.dispatchLoop()

	return s
}

// On subscribes to a class of event.
func (s *Scheduler) On(kind events.Kind, h events.Handler) events.Unsubscribe {
	return s.events.On(kind, h)
}

func (s *Scheduler) wakeup() {
	select {
	case s.wakeupCh <- struct{}{}:
	default:
	}
}

// RegisterJob validates uniqueness, constructs the job's limiter,
// semaphore, and breaker slots, and emits job-registered.
func (s *Scheduler) RegisterJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.Name == "" {
		return cronerrors.New(cronerrors.EConfiguration, "job name must not be empty")
	}
	if _, exists := s.jobs[job.Name]; exists {
		return cronerrors.New(cronerrors.EDuplicate, "job already registered: "+job.Name)
	}
	if job.RateLimit != nil && job.RateLimit.Burst <= 0 && job.RateLimit.RatePerSecond > 0 {
		return cronerrors.New(cronerrors.EConfiguration, "rate limit burst must be positive when rate is positive")
	}

	s.jobs[job.Name] = job
	if job.RateLimit != nil {
		s.limiters.Configure(job.Name, *job.RateLimit)
	}
	s.semaphores.Configure(job.Name, job.effectiveConcurrency())
	if job.Breaker != nil {
		s.breakers.Configure(job.Name, *job.Breaker)
	}

	s.events.Emit(events.Event{Kind: events.JobRegistered, JobName: job.Name})
	return nil
}

// UnregisterJob removes a job. It fails if any runs are currently active for
// it unless force is set.
func (s *Scheduler) UnregisterJob(name string, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; !ok {
		return cronerrors.New(cronerrors.ENotFound, "job not registered: "+name)
	}
	if !force && s.semaphores.JobInUse(name) > 0 {
		return cronerrors.New(cronerrors.EState, "job has active runs: "+name)
	}

	s.heap.Remove(func(e *heap.Entry) bool {
		return s.triggerJobName(e.TriggerID) == name
	})
	delete(s.jobs, name)
	s.limiters.Remove(name)
	s.semaphores.Remove(name)
	s.breakers.Remove(name)
	return nil
}

// triggerJobName is a best-effort lookup used only for the force-unregister
// heap sweep; callers already hold s.mu.
func (s *Scheduler) triggerJobName(triggerID string) string {
	t, err := s.store.GetTrigger(context.Background(), triggerID)
	if err != nil {
		return ""
	}
	return t.JobName
}

// Schedule computes nextRunAt from spec, creates an active trigger,
// persists it, pushes a heap entry, emits scheduled, and wakes the loop.
func (s *Scheduler) Schedule(jobName string, spec Spec, misfire MisfirePolicy, metadata map[string]any, payload any) (*Trigger, error) {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil, cronerrors.New(cronerrors.EShutdown, "scheduler is shutting down")
	}
	job, ok := s.jobs[jobName]
	s.mu.Unlock()
	if !ok {
		return nil, cronerrors.New(cronerrors.ENotFound, "job not registered: "+jobName)
	}
	_ = job

	if misfire == "" {
		misfire = MisfireSkip
	}

	now := s.clock.Now()
	first, ok := spec.firstOccurrence(now)
	if !ok {
		return nil, cronerrors.New(cronerrors.EConfiguration, "trigger spec yields no occurrences")
	}

	t := &Trigger{
		ID:            uuid.NewString(),
		JobName:       jobName,
		Spec:          spec,
		NextRunAt:     first,
		MisfirePolicy: misfire,
		Metadata:      metadata,
		Payload:       payload,
		State:         TriggerActive,
		Generation:    1,
	}

	if err := s.store.UpsertTrigger(context.Background(), t); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.generations[t.ID] = t.Generation
	s.heap.Push(&heap.Entry{TriggerID: t.ID, DueAtMs: first.UnixMilli(), Generation: t.Generation})
	s.mu.Unlock()

	s.events.Emit(events.Event{Kind: events.Scheduled, TriggerID: t.ID, NextRunAt: first.UnixMilli()})
	s.wakeup()

	return t, nil
}

// ExecuteNow is equivalent to Schedule with a one-shot spec clamped to
// max(runAt, now).
func (s *Scheduler) ExecuteNow(jobName string, opts ExecuteNowOptions) (*Trigger, error) {
	now := s.clock.Now()
	runAt := opts.RunAt
	if runAt.IsZero() || runAt.Before(now) {
		runAt = now
	}
	return s.Schedule(jobName, Spec{Kind: SpecAt, AtRunAt: runAt}, opts.MisfirePolicy, opts.Metadata, opts.Payload)
}

// PauseTrigger moves a trigger to paused; its heap entry, if any, becomes
// stale and is discarded on pop.
func (s *Scheduler) PauseTrigger(id string) error {
	return s.mutateTrigger(id, func(t *Trigger) error {
		t.State = TriggerPaused
		return nil
	})
}

// ResumeTrigger reactivates a paused trigger and re-pushes its next
// occurrence.
func (s *Scheduler) ResumeTrigger(id string) error {
	return s.mutateTrigger(id, func(t *Trigger) error {
		if t.State != TriggerPaused {
			return cronerrors.New(cronerrors.EState, "trigger is not paused: "+id)
		}
		t.State = TriggerActive
		now := s.clock.Now()
		next := t.NextRunAt
		if next.Before(now) {
			next = now
		}
		t.NextRunAt = next
		t.Generation++
		s.mu.Lock()
		s.generations[t.ID] = t.Generation
		s.heap.Push(&heap.Entry{TriggerID: t.ID, DueAtMs: next.UnixMilli(), Generation: t.Generation})
		s.mu.Unlock()
		s.wakeup()
		return nil
	})
}

// RemoveTrigger deletes a trigger; its heap entry, if any, becomes stale.
func (s *Scheduler) RemoveTrigger(id string) error {
	ctx := context.Background()
	if _, err := s.store.GetTrigger(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteTrigger(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.generations, id)
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) mutateTrigger(id string, fn func(*Trigger) error) error {
	ctx := context.Background()
	t, err := s.store.GetTrigger(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		return err
	}
	return s.store.UpsertTrigger(ctx, t)
}

// CancelRun cancels an in-flight run's context, if it is still running.
func (s *Scheduler) CancelRun(runID string) error {
	s.mu.Lock()
	cancel, ok := s.runCancels[runID]
	s.mu.Unlock()
	if !ok {
		return cronerrors.New(cronerrors.ENotFound, "run not active: "+runID)
	}
	cancel()
	return nil
}

// Shutdown stops admitting new triggers, optionally waits for in-flight
// runs to finish, then cancels any that remain and transitions to stopped.
func (s *Scheduler) Shutdown(opts ShutdownOptions) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDraining
	s.mu.Unlock()

	if opts.Graceful && opts.GraceMs > 0 {
		deadline := s.clock.Sleep(time.Duration(opts.GraceMs) * time.Millisecond)
	drain:
		for s.semaphores.GlobalInUse() > 0 {
			select {
			case <-deadline:
				break drain
			default:
				runtimeGosched()
			}
		}
	}

	s.mu.Lock()
	for _, cancel := range s.runCancels {
		cancel()
	}
	s.mu.Unlock()

	close(s.shutdownCh)
	s.wg.Wait()

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	s.events.Emit(events.Event{Kind: events.Shutdown})
	return nil
}

func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		head, ok := s.heap.Peek()
		s.mu.Unlock()

		if !ok {
			select {
			case <-s.wakeupCh:
				continue
			case <-s.shutdownCh:
				return
			}
		}

		now := s.clock.NowMs()
		if head.DueAtMs > now {
			timer := s.clock.Sleep(time.Duration(head.DueAtMs-now) * time.Millisecond)
			select {
			case <-timer:
			case <-s.wakeupCh:
				continue
			case <-s.shutdownCh:
				return
			}
		}

		s.drainDue()
	}
}

// drainDue pops and processes every heap entry due at or before now.
func (s *Scheduler) drainDue() {
	for {
		s.mu.Lock()
		head, ok := s.heap.Peek()
		if !ok || head.DueAtMs > s.clock.NowMs() {
			s.mu.Unlock()
			return
		}
		entry, _ := s.heap.Pop()
		s.mu.Unlock()

		s.processEntry(entry)
	}
}

func (s *Scheduler) processEntry(entry *heap.Entry) {
	ctx := context.Background()

	s.mu.Lock()
	currentGen, known := s.generations[entry.TriggerID]
	draining := s.state != StateRunning
	s.mu.Unlock()

	if !known || entry.Generation != currentGen {
		return // stale pop
	}
	if draining {
		return // dispatcher refuses to admit new launches while draining
	}

	t, err := s.store.GetTrigger(ctx, entry.TriggerID)
	if err != nil || t.State != TriggerActive {
		return
	}

	now := s.clock.Now()
	dueAt := time.UnixMilli(entry.DueAtMs)
	lateness := now.Sub(dueAt)

	if lateness.Milliseconds() > s.opts.MisfireToleranceMs {
		switch t.MisfirePolicy {
		case MisfireSkip:
			s.rescheduleNext(t, now)
			return
		case MisfireFireNow:
			if !s.admitAndLaunch(t, entry, now) {
				return
			}
			s.rescheduleNext(t, now)
			return
		case MisfireFireMissed:
			if !s.admitAndLaunch(t, entry, now) {
				return
			}
			s.rescheduleNext(t, dueAt)
			return
		}
	}

	// On-time occurrence: admission gating.
	if !s.admitAndLaunch(t, entry, now) {
		return
	}
	s.rescheduleNext(t, now)
}

// admitAndLaunch applies rate-limit and concurrency admission to a popped
// entry and launches it if both gates clear, re-queuing it via deferEntry
// otherwise. A misfire-admitted occurrence still counts against
// active[job] <= job.concurrency like an on-time one — "proceed as if on
// time" governs recurrence, not whether the run takes a semaphore slot.
func (s *Scheduler) admitAndLaunch(t *Trigger, entry *heap.Entry, now time.Time) bool {
	if !s.limiters.Allow(t.JobName) {
		s.deferEntry(entry, t, "rate-limited")
		return false
	}
	if !s.semaphores.TryAcquire(t.JobName) {
		s.deferEntry(entry, t, "concurrency-limited")
		return false
	}

	s.launchAdmitted(t, entry.Attempt, now)
	return true
}

func (s *Scheduler) deferEntry(entry *heap.Entry, t *Trigger, reason string) {
	s.metrics.ThrottledTotal.WithLabelValues(t.JobName, reason).Inc()
	s.logger.Debug("admission refused", logger.String("job", t.JobName), logger.String("reason", reason))
	s.events.Emit(events.Event{Kind: events.Throttled, TriggerID: t.ID, Reason: reason, RetryAfterMs: 50})

	deferMs := int64(50)
	next := s.clock.NowMs() + deferMs

	s.mu.Lock()
	s.heap.Push(&heap.Entry{TriggerID: entry.TriggerID, DueAtMs: next, Generation: entry.Generation, Attempt: entry.Attempt})
	s.mu.Unlock()
	s.wakeup()
}

func (s *Scheduler) launchAdmitted(t *Trigger, attempt int, now time.Time) {
	if attempt == 0 {
		attempt = 1
	}

	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.runCancels[runID] = cancel
	s.mu.Unlock()

	run := &Run{
		RunID:       runID,
		TriggerID:   t.ID,
		JobName:     t.JobName,
		ScheduledAt: t.NextRunAt,
		Attempt:     attempt,
		Status:      StatusPending,
	}
	_ = s.store.RecordRun(context.Background(), run)

	startedAt := now
	run.StartedAt = &startedAt
	run.Status = StatusRunning
	_ = s.store.UpdateRun(context.Background(), run)

	s.metrics.ActiveRuns.WithLabelValues(t.JobName).Set(float64(s.semaphores.JobInUse(t.JobName)))
	s.metrics.ActiveRunsGlobal.Set(float64(s.semaphores.GlobalInUse()))
	s.metrics.DispatchLag.Observe(now.Sub(t.NextRunAt).Seconds())

	s.events.Emit(events.Event{Kind: events.Started, RunID: runID, TriggerID: t.ID, Attempt: attempt})

	s.mu.Lock()
	job := s.jobs[t.JobName]
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executeRun(ctx, cancel, job, t, run)
	}()
}

func (s *Scheduler) executeRun(ctx context.Context, cancel context.CancelFunc, job Job, t *Trigger, run *Run) {
	defer cancel()

	timeout := job.TimeoutMs
	outcome := runHandler(ctx, RunRequest{
		Job:         job,
		RunID:       run.RunID,
		TriggerID:   t.ID,
		Attempt:     run.Attempt,
		Payload:     t.Payload,
		ScheduledAt: t.NextRunAt,
		TimeoutMs:   timeout,
		Clock:       s.clock,
		Logger:      s.logger.With(logger.String("job", t.JobName), logger.String("run_id", run.RunID)),
		Gate:        s.breakers.Get(t.JobName),
	})

	s.mu.Lock()
	delete(s.runCancels, run.RunID)
	s.mu.Unlock()
	s.semaphores.Release(t.JobName)

	finishedAt := s.clock.Now()
	run.FinishedAt = &finishedAt
	run.Status = outcome.Status
	run.Err = outcome.Err
	run.Result = outcome.Result
	_ = s.store.UpdateRun(context.Background(), run)

	s.metrics.ActiveRuns.WithLabelValues(t.JobName).Set(float64(s.semaphores.JobInUse(t.JobName)))
	s.metrics.ActiveRunsGlobal.Set(float64(s.semaphores.GlobalInUse()))
	s.metrics.RunsTotal.WithLabelValues(t.JobName, string(outcome.Status)).Inc()
	if run.StartedAt != nil {
		s.metrics.RunDuration.WithLabelValues(t.JobName).Observe(finishedAt.Sub(*run.StartedAt).Seconds())
	}
	if cronerrors.Is(outcome.Err, cronerrors.EInternal) {
		if ce, ok := outcome.Err.(*cronerrors.Error); ok && ce.Message == "circuit open" {
			s.metrics.ThrottledTotal.WithLabelValues(t.JobName, "circuit-open").Inc()
		}
	}

	switch outcome.Status {
	case StatusSucceeded:
		s.events.Emit(events.Event{Kind: events.Completed, RunID: run.RunID, Result: outcome.Result})
	case StatusCanceled:
		s.events.Emit(events.Event{Kind: events.Canceled, RunID: run.RunID})
	case StatusTimedOut:
		s.events.Emit(events.Event{Kind: events.TimedOut, RunID: run.RunID})
	case StatusFailed:
		willRetry, finalErr := s.maybeScheduleRetry(job, t, run)
		s.events.Emit(events.Event{Kind: events.Failed, RunID: run.RunID, Err: finalErr, WillRetry: willRetry})
	}
}

// maybeScheduleRetry evaluates the job's retry policy against a failed run
// and, if warranted, pushes a retry heap entry carrying attempt+1. It
// returns whether a retry was scheduled, along with the error to attach to
// the terminal event: the original cause, except when the attempt count
// itself is why no retry follows, in which case the cause is wrapped in an
// E_RETRY_LIMIT error so observers can tell "exhausted retries" apart from
// "no retry policy configured" or "ShouldRetry declined this error".
func (s *Scheduler) maybeScheduleRetry(job Job, t *Trigger, run *Run) (bool, error) {
	if job.Retry == nil {
		return false, run.Err
	}
	if run.Attempt >= job.Retry.MaxAttempts {
		final := cronerrors.Wrap(cronerrors.ERetryLimit,
			fmt.Sprintf("exhausted after %d attempts", run.Attempt), run.Err).
			WithDetails(map[string]any{"attempts": run.Attempt, "max_attempts": job.Retry.MaxAttempts})
		return false, final
	}
	if job.Retry.ShouldRetry != nil && !job.Retry.ShouldRetry(run.Err) {
		return false, run.Err
	}

	backoff := job.Retry.Backoff
	if backoff == nil {
		backoff = ExponentialBackoff(time.Second, 2)
	}
	delay := backoff(run.Attempt)
	nextAttempt := run.Attempt + 1

	s.mu.Lock()
	gen := s.generations[t.ID]
	s.heap.Push(&heap.Entry{
		TriggerID:  t.ID,
		DueAtMs:    s.clock.NowMs() + delay.Milliseconds(),
		Generation: gen,
		Attempt:    nextAttempt,
	})
	s.mu.Unlock()
	s.wakeup()

	s.metrics.RetriesTotal.WithLabelValues(t.JobName).Inc()
	s.events.Emit(events.Event{Kind: events.RetryScheduled, RunID: run.RunID, Attempt: nextAttempt, DelayMs: delay.Milliseconds()})
	return true, nil
}

// rescheduleNext computes the trigger's next occurrence from after and
// re-pushes it with a new generation, or marks the trigger completed if the
// spec is exhausted.
func (s *Scheduler) rescheduleNext(t *Trigger, after time.Time) {
	next, ok := t.Spec.nextOccurrence(after)
	ctx := context.Background()

	if !ok {
		t.State = TriggerCompleted
		_ = s.store.UpsertTrigger(ctx, t)
		return
	}

	t.NextRunAt = next
	t.Generation++
	_ = s.store.UpsertTrigger(ctx, t)

	s.mu.Lock()
	s.generations[t.ID] = t.Generation
	s.heap.Push(&heap.Entry{TriggerID: t.ID, DueAtMs: next.UnixMilli(), Generation: t.Generation})
	s.mu.Unlock()
	s.wakeup()
}

// runtimeGosched yields to let in-flight runs make progress while Shutdown
// polls for drain completion; kept as its own function so the busy-wait
// interval is documented in one place instead of scattered sleeps.
func runtimeGosched() {
	time.Sleep(time.Millisecond)
}
