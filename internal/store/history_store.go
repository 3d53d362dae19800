package store

import (
	"context"
	"time"

	"flowfire/internal/models"
)

// HistoryStore is the append-only run history ledger. Records are never
// mutated or deleted during normal operation; Prune is a separately-triggered
// administrative action with its own audit trail.
type HistoryStore interface {
	// Append durably writes one closed attempt record. It must be safe
	// under concurrent writers and must preserve per-job ordering; the
	// coordinator does not consider an attempt closed until Append returns.
	Append(ctx context.Context, attempt models.ExecutionAttempt) error

	// LatestByJob returns the most recent attempt for a job id, or nil if
	// the job has never run.
	LatestByJob(ctx context.Context, jobID int64) (*models.ExecutionAttempt, error)

	// Range returns attempts for a job whose start time falls in
	// [from, to), newest first.
	Range(ctx context.Context, jobID int64, from, to time.Time, page int, pageSize int) (*models.PaginationResult[models.ExecutionAttempt], error)

	// Prune deletes records that started before the cutoff and writes an
	// audit row recording who asked and how many rows went away.
	Prune(ctx context.Context, before time.Time, requestedBy string) (int64, error)

	// Close closes the database
	Close() error
}
