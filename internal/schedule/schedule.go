// Package schedule parses job schedule expressions and computes fire times.
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	"flowfire/custom_errors"
	"flowfire/internal/models"
)

// Expressions use the standard five-field cron form (minute, hour, day of
// month, month, day of week). Descriptors such as "@every 30s", "@hourly" and
// "@daily" are accepted for fixed-interval jobs.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule is a parsed, immutable schedule expression.
type Schedule struct {
	expr string
	spec cron.Schedule
}

// Parse validates an expression at definition-creation time. A malformed
// expression never reaches the trigger loop.
func Parse(expr string) (Schedule, error) {
	spec, err := parser.Parse(expr)
	if err != nil {
		return Schedule{}, &custom_errors.ScheduleError{Expression: expr, Cause: err}
	}
	return Schedule{expr: expr, spec: spec}, nil
}

// MustParse is for tests and static wiring of known-good expressions.
func MustParse(expr string) Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Schedule) Expression() string {
	return s.expr
}

// Next returns the first fire time strictly after t.
func (s Schedule) Next(t time.Time) time.Time {
	return s.spec.Next(t)
}

// NextFire computes the next fire time for a definition given the scheduled
// time of its last run and the current time. It is a pure function of its
// arguments.
//
// Rules:
//   - a disabled definition never fires (zero time);
//   - a definition with no history fires at the first boundary after its
//     creation time, or immediately when RunOnStartup is set;
//   - a last run in the future (clock skew) pushes the next fire strictly
//     past it, so the occurrence cannot fire twice;
//   - an overdue boundary is clamped to now, never earlier.
func NextFire(s Schedule, def models.JobDefinition, lastRun, now time.Time) time.Time {
	if !def.Enabled {
		return time.Time{}
	}

	base := lastRun
	if base.IsZero() {
		if def.RunOnStartup {
			return now
		}
		base = def.CreatedAt
	}

	if base.After(now) {
		return s.Next(base)
	}

	next := s.Next(base)
	if next.Before(now) {
		return now
	}
	return next
}
