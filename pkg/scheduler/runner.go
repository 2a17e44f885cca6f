package scheduler

import (
	"context"
	"time"

	"tickforge/pkg/clock"
	"tickforge/pkg/cronerrors"
	"tickforge/pkg/logger"
	"tickforge/pkg/resilience"
)

// JobHandlerContext is the only thing a handler holds. It never owns
// scheduler state directly — it communicates only through this context and
// its return value or error.
type JobHandlerContext struct {
	RunID       string
	TriggerID   string
	Job         Job
	Payload     any
	ScheduledAt time.Time
	Attempt     int
	Context     context.Context // canceled on timeout, cancelRun, or shutdown
	Logger      logger.Logger
	Clock       clock.Clock

	touch func(progress any)
}

// Touch reports handler progress; a no-op unless the dispatcher attached a
// listener.
func (c *JobHandlerContext) Touch(progress any) {
	if c.touch != nil {
		c.touch(progress)
	}
}

// RunRequest is the runner's input: everything needed to execute a single
// attempt without reaching back into dispatcher internals.
type RunRequest struct {
	Job         Job
	RunID       string
	TriggerID   string
	Attempt     int
	Payload     any
	ScheduledAt time.Time
	TimeoutMs   int64

	Clock  clock.Clock
	Logger logger.Logger
	Gate   resilience.Gate // never nil; resilience.NoOp{} when the job has no breaker

	Touch func(progress any)
}

// RunOutcome is the runner's result: a terminal status plus whatever detail
// goes with it.
type RunOutcome struct {
	Status Status
	Result any
	Err    error
}

// runHandler executes a single attempt per the JobRunner protocol: breaker
// check, optional timeout arming, context construction, handler invocation,
// and outcome classification. It never touches the dispatcher's heap,
// limiter, or semaphore state.
func runHandler(parent context.Context, req RunRequest) RunOutcome {
	if req.Job.Handler == nil {
		return RunOutcome{
			Status: StatusFailed,
			Err:    cronerrors.New(cronerrors.EConfiguration, "job has no handler"),
		}
	}

	if !req.Gate.Allow() {
		return RunOutcome{
			Status: StatusFailed,
			Err:    cronerrors.New(cronerrors.EInternal, "circuit open"),
		}
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var timer <-chan time.Time
	if req.TimeoutMs > 0 {
		timer = req.Clock.Sleep(time.Duration(req.TimeoutMs) * time.Millisecond)
	}

	hctx := &JobHandlerContext{
		RunID:       req.RunID,
		TriggerID:   req.TriggerID,
		Job:         req.Job,
		Payload:     req.Payload,
		ScheduledAt: req.ScheduledAt,
		Attempt:     req.Attempt,
		Context:     ctx,
		Logger:      req.Logger,
		Clock:       req.Clock,
		touch:       req.Touch,
	}

	type result struct {
		val any
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: cronerrors.Wrap(cronerrors.EInternal, "handler panicked", panicError{r})}
			}
		}()
		v, err := req.Job.Handler(hctx)
		done <- result{val: v, err: err}
	}()

	select {
	case <-timer:
		// Cancellation is cooperative: we don't wait for the handler
		// goroutine to observe it and return. A handler that ignores the
		// signal keeps running after this function returns, same as an
		// un-timed-out handler that never resolves.
		cancel()
		outcome := RunOutcome{
			Status: StatusTimedOut,
			Err:    cronerrors.New(cronerrors.ETimeout, "run exceeded timeoutMs"),
		}
		req.Gate.Report(outcome.Err)
		return outcome
	case res := <-done:
		outcome := classify(ctx, res.val, res.err)
		if outcome.Status != StatusCanceled {
			req.Gate.Report(outcome.Err)
		}
		return outcome
	}
}

func classify(ctx context.Context, val any, err error) RunOutcome {
	if err == nil {
		return RunOutcome{Status: StatusSucceeded, Result: val}
	}
	if cronerrors.Is(err, cronerrors.ECanceled) && ctx.Err() != nil {
		return RunOutcome{Status: StatusCanceled, Err: err}
	}
	if cronerrors.Is(err, cronerrors.ETimeout) {
		return RunOutcome{Status: StatusTimedOut, Err: err}
	}
	return RunOutcome{Status: StatusFailed, Err: err}
}

// panicError adapts a recovered panic value to the error interface.
type panicError struct{ v any }

func (p panicError) Error() string { return "panic: " + toString(p.v) }

func toString(v any) string {
	if e, ok := v.(error); ok {
		return e.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic value"
}
