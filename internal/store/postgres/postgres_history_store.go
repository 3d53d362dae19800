package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"flowfire/internal/models"
)

// PostgresHistoryStore is the run history ledger. Appends are single INSERTs,
// safe under concurrent workers; records are never updated.
type PostgresHistoryStore struct {
	db *sql.DB
}

func NewPostgresHistoryStore(db *sql.DB) *PostgresHistoryStore {
	return &PostgresHistoryStore{db: db}
}

func (r *PostgresHistoryStore) Append(ctx context.Context, attempt models.ExecutionAttempt) error {
	query := `
		INSERT INTO flowfire_schema.run_history
			(id, job_id, attempt, scheduled_at, started_at, ended_at, outcome, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		attempt.ID, attempt.JobID, attempt.Attempt,
		attempt.ScheduledAt, attempt.StartedAt, attempt.EndedAt,
		attempt.Outcome.String(), attempt.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to append run history record: %w", err)
	}
	return nil
}

func (r *PostgresHistoryStore) LatestByJob(ctx context.Context, jobID int64) (*models.ExecutionAttempt, error) {
	query := `
		SELECT id, job_id, attempt, scheduled_at, started_at, ended_at, outcome, last_error
		FROM flowfire_schema.run_history
		WHERE job_id = $1
		ORDER BY started_at DESC, attempt DESC
		LIMIT 1
	`

	attempt, err := scanAttempt(r.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return attempt, nil
}

func (r *PostgresHistoryStore) Range(ctx context.Context, jobID int64, from, to time.Time, page int, pageSize int) (*models.PaginationResult[models.ExecutionAttempt], error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	countQuery := `
		SELECT COUNT(*)
		FROM flowfire_schema.run_history
		WHERE job_id = $1 AND started_at >= $2 AND started_at < $3
	`
	var totalItems int
	if err := r.db.QueryRowContext(ctx, countQuery, jobID, from, to).Scan(&totalItems); err != nil {
		return nil, err
	}

	query := `
		SELECT id, job_id, attempt, scheduled_at, started_at, ended_at, outcome, last_error
		FROM flowfire_schema.run_history
		WHERE job_id = $1 AND started_at >= $2 AND started_at < $3
		ORDER BY started_at DESC, attempt DESC
		LIMIT $4 OFFSET $5
	`

	rows, err := r.db.QueryContext(ctx, query, jobID, from, to, pageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []models.ExecutionAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := int(math.Ceil(float64(totalItems) / float64(pageSize)))
	return &models.PaginationResult[models.ExecutionAttempt]{
		Items:           attempts,
		TotalItems:      totalItems,
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}, nil
}

// Prune removes records started before the cutoff and writes the audit row in
// the same transaction, so the deletion and its trail commit together.
func (r *PostgresHistoryStore) Prune(ctx context.Context, before time.Time, requestedBy string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM flowfire_schema.run_history WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune run history: %w", err)
	}
	removed, _ := res.RowsAffected()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO flowfire_schema.prune_audit (pruned_before, rows_removed, requested_by, executed_at)
		VALUES ($1, $2, $3, now())
	`, before, removed, requestedBy)
	if err != nil {
		return 0, fmt.Errorf("failed to write prune audit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}

func (r *PostgresHistoryStore) Close() error {
	return r.db.Close()
}

func scanAttempt(row rowScanner) (*models.ExecutionAttempt, error) {
	var attempt models.ExecutionAttempt
	var outcome string

	err := row.Scan(
		&attempt.ID, &attempt.JobID, &attempt.Attempt,
		&attempt.ScheduledAt, &attempt.StartedAt, &attempt.EndedAt,
		&outcome, &attempt.LastError,
	)
	if err != nil {
		return nil, err
	}

	attempt.Outcome = models.Outcome(outcome)
	return &attempt, nil
}
