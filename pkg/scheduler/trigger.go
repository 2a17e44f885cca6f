package scheduler

import "time"

// MisfirePolicy controls what happens when a trigger's due time has already
// passed by more than the scheduler's misfire tolerance by the time it's
// examined.
type MisfirePolicy string

const (
	MisfireSkip       MisfirePolicy = "skip"
	MisfireFireNow    MisfirePolicy = "fire-now"
	MisfireFireMissed MisfirePolicy = "fire-missed"
)

// TriggerState is a trigger's lifecycle state.
type TriggerState string

const (
	TriggerActive    TriggerState = "active"
	TriggerPaused    TriggerState = "paused"
	TriggerCompleted TriggerState = "completed"
)

// NextFunc computes the next due instant strictly after `after`. The second
// return value is false once the schedule is exhausted (e.g. an "every"
// trigger past its endAt).
type NextFunc func(after time.Time) (time.Time, bool)

// Spec is a trigger specification, one of the three kinds below. Exactly one
// of AtRunAt, Every*, or Next should be meaningful, selected by Kind.
type Spec struct {
	Kind SpecKind

	// Kind == SpecAt
	AtRunAt time.Time

	// Kind == SpecEvery
	EveryPeriod time.Duration
	EveryStart  *time.Time
	EveryEnd    *time.Time

	// Kind == SpecCron
	Next NextFunc
}

type SpecKind string

const (
	SpecAt    SpecKind = "at"
	SpecEvery SpecKind = "every"
	SpecCron  SpecKind = "cron"
)

// firstOccurrence computes the spec's first due instant. For cron it is the
// first fire at or after now; "at" and "every" return their configured
// instant as given (runAt, or startAt defaulting to now), even if it is
// already in the past.
func (s Spec) firstOccurrence(now time.Time) (time.Time, bool) {
	switch s.Kind {
	case SpecAt:
		return s.AtRunAt, true
	case SpecEvery:
		start := now
		if s.EveryStart != nil {
			start = *s.EveryStart
		}
		if s.EveryEnd != nil && start.After(*s.EveryEnd) {
			return time.Time{}, false
		}
		return start, true
	case SpecCron:
		return s.Next(now.Add(-time.Nanosecond))
	default:
		return time.Time{}, false
	}
}

// nextOccurrence computes the next due instant strictly after `after`, given
// the trigger already fired at `after`.
func (s Spec) nextOccurrence(after time.Time) (time.Time, bool) {
	switch s.Kind {
	case SpecAt:
		return time.Time{}, false
	case SpecEvery:
		next := after.Add(s.EveryPeriod)
		if s.EveryEnd != nil && next.After(*s.EveryEnd) {
			return time.Time{}, false
		}
		return next, true
	case SpecCron:
		return s.Next(after)
	default:
		return time.Time{}, false
	}
}

// Trigger is a persistent schedule that produces occurrences.
type Trigger struct {
	ID            string
	JobName       string
	Spec          Spec
	NextRunAt     time.Time
	LastRunAt     *time.Time
	MisfirePolicy MisfirePolicy
	Metadata      map[string]any
	Payload       any
	State         TriggerState
	Generation    uint64
}
