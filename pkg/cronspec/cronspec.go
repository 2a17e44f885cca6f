// Package cronspec adapts robfig/cron's expression parser to the scheduler's
// trigger model, so the scheduler core itself only ever sees a plain
// "next(after time.Time) (time.Time, bool)" function and never imports a
// cron-parsing library directly.
package cronspec

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts standard 5-field cron expressions only; a 6-field
// expression with a seconds field is rejected.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextFunc computes the next fire time strictly after the given instant. A
// cron trigger's schedule never "ends" on its own, so it always returns true;
// the bool exists so the trigger model can share a signature with bounded
// trigger kinds.
type NextFunc func(after time.Time) (time.Time, bool)

// Parse validates a cron expression and returns a NextFunc closed over the
// compiled schedule. Parsing happens once, at trigger registration time, so
// a malformed expression fails fast instead of on every dispatch tick.
func Parse(expr string) (NextFunc, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cronspec: invalid expression %q: %w", expr, err)
	}
	return func(after time.Time) (time.Time, bool) {
		return schedule.Next(after), true
	}, nil
}
