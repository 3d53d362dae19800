package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how an execution attempt ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
	// OutcomeMissed marks a fire event that was dropped before dispatch
	// (queue overflow or overlap with a running attempt in drop mode).
	OutcomeMissed Outcome = "missed"
)

func (o Outcome) String() string {
	return string(o)
}

// Failure reports whether the outcome counts as a failure for the retry
// policy. Missed fires are not retried.
func (o Outcome) Failure() bool {
	return o == OutcomeFailed || o == OutcomeTimeout
}

// ExecutionAttempt is one run of a job's handler, immutable once closed.
// Attempt numbers start at 1 per fire event and increase across retries of
// the same cycle. At most one attempt per job id is open at any time.
type ExecutionAttempt struct {
	ID          uuid.UUID
	JobID       int64
	Attempt     int
	ScheduledAt time.Time
	StartedAt   time.Time
	EndedAt     time.Time
	Outcome     Outcome
	LastError   sql.NullString
}
