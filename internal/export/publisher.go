// Package export pushes closed attempt records to external monitoring
// collectors. Publishing is best-effort: a failed push is logged by the
// caller and never blocks or fails the attempt itself.
package export

import (
	"context"
	"errors"
	"time"

	"flowfire/internal/models"
)

// Record is the wire form of one closed execution attempt.
type Record struct {
	AttemptID   string    `json:"attempt_id"`
	JobID       int64     `json:"job_id"`
	Attempt     int       `json:"attempt"`
	ScheduledAt time.Time `json:"scheduled_at"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
}

func NewRecord(attempt models.ExecutionAttempt) Record {
	rec := Record{
		AttemptID:   attempt.ID.String(),
		JobID:       attempt.JobID,
		Attempt:     attempt.Attempt,
		ScheduledAt: attempt.ScheduledAt,
		StartedAt:   attempt.StartedAt,
		EndedAt:     attempt.EndedAt,
		Outcome:     attempt.Outcome.String(),
	}
	if attempt.LastError.Valid {
		rec.Error = attempt.LastError.String
	}
	return rec
}

type Publisher interface {
	Publish(ctx context.Context, rec Record) error
	Close() error
}

// Fanout publishes to every configured sink and joins the failures, so one
// slow or dead collector does not hide the others.
type Fanout struct {
	publishers []Publisher
}

func NewFanout(publishers ...Publisher) *Fanout {
	return &Fanout{publishers: publishers}
}

func (f *Fanout) Publish(ctx context.Context, rec Record) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Close() error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
