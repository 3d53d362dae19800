package models

import (
	"time"

	"github.com/google/uuid"
)

// FireEvent is one due occurrence of a scheduled job awaiting dispatch. It is
// emitted by the trigger loop (or by a retry timer, with Attempt > 1) and
// consumed exactly once by the coordinator. Fire events are ephemeral; only
// the attempts they spawn are persisted.
type FireEvent struct {
	ID          uuid.UUID
	JobID       int64
	ScheduledAt time.Time // intended fire time
	FiredAt     time.Time // actual emission time
	Attempt     int       // 1 for a natural fire, preserved across retries
}

func NewFireEvent(jobID int64, scheduledAt, firedAt time.Time) FireEvent {
	return FireEvent{
		ID:          uuid.New(),
		JobID:       jobID,
		ScheduledAt: scheduledAt,
		FiredAt:     firedAt,
		Attempt:     1,
	}
}
