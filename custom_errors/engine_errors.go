package custom_errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrJobNotFound is returned by stores and the admin surface when a job
	// id or name does not resolve to a known definition.
	ErrJobNotFound = errors.New("job definition not found")

	// ErrHandlerNotRegistered is returned at definition creation time when
	// the referenced handler id has no registered implementation.
	ErrHandlerNotRegistered = errors.New("handler not registered")

	// ErrEngineStopped is returned when events are submitted after shutdown.
	ErrEngineStopped = errors.New("engine stopped")
)

// ScheduleError marks a malformed schedule expression. It is raised when a
// definition is created or updated, never by the trigger loop.
type ScheduleError struct {
	Expression string
	Cause      error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule %q: %v", e.Expression, e.Cause)
}

func (e *ScheduleError) Unwrap() error {
	return e.Cause
}

// DispatchOverflowError reports a fire event rejected because the dispatch
// queue (or a job's pending slot) was full. The event is recorded as a
// missed fire, not retried.
type DispatchOverflowError struct {
	JobID       int64
	ScheduledAt time.Time
	QueueDepth  int
}

func (e *DispatchOverflowError) Error() string {
	return fmt.Sprintf("dispatch queue full (depth %d), dropped fire for job %d scheduled at %s",
		e.QueueDepth, e.JobID, e.ScheduledAt.Format(time.RFC3339))
}

// LedgerWriteError reports a failure to append an attempt record after the
// append retries were exhausted. The owning attempt cannot be closed cleanly
// and the condition must be surfaced to the operator.
type LedgerWriteError struct {
	JobID   int64
	Attempt int
	Cause   error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("ledger append failed for job %d attempt %d: %v", e.JobID, e.Attempt, e.Cause)
}

func (e *LedgerWriteError) Unwrap() error {
	return e.Cause
}
