package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"flowfire/custom_errors"
	"flowfire/internal/models"
)

const jobColumns = `id, name, expression, handler_id, payload,
	       max_attempts, base_delay_ms, max_delay_ms, jitter,
	       enabled, run_on_startup, created_at, updated_at`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

func (r *PostgresJobStore) Create(ctx context.Context, def models.JobDefinition) (int64, error) {
	query := `
		INSERT INTO flowfire_schema.job_definitions
			(name, expression, handler_id, payload,
			 max_attempts, base_delay_ms, max_delay_ms, jitter,
			 enabled, run_on_startup, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING id
	`

	var jobID int64
	err := r.db.QueryRowContext(ctx, query,
		def.Name, def.Expression, def.HandlerID, nullableJSON(def.Payload),
		def.Retry.MaxAttempts, def.Retry.BaseDelay.Milliseconds(), def.Retry.MaxDelay.Milliseconds(), def.Retry.Jitter,
		def.Enabled, def.RunOnStartup,
	).Scan(&jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert job definition: %w", err)
	}

	return jobID, nil
}

func (r *PostgresJobStore) Update(ctx context.Context, def models.JobDefinition) error {
	query := `
		UPDATE flowfire_schema.job_definitions
		SET expression = $1,
		    handler_id = $2,
		    payload = $3,
		    max_attempts = $4,
		    base_delay_ms = $5,
		    max_delay_ms = $6,
		    jitter = $7,
		    enabled = $8,
		    run_on_startup = $9,
		    updated_at = now()
		WHERE id = $10
	`

	res, err := r.db.ExecContext(ctx, query,
		def.Expression, def.HandlerID, nullableJSON(def.Payload),
		def.Retry.MaxAttempts, def.Retry.BaseDelay.Milliseconds(), def.Retry.MaxDelay.Milliseconds(), def.Retry.Jitter,
		def.Enabled, def.RunOnStartup, def.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job definition: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return custom_errors.ErrJobNotFound
	}
	return nil
}

func (r *PostgresJobStore) FindByID(ctx context.Context, id int64) (*models.JobDefinition, error) {
	query := `SELECT ` + jobColumns + ` FROM flowfire_schema.job_definitions WHERE id = $1`
	return r.findOne(ctx, query, id)
}

func (r *PostgresJobStore) FindByName(ctx context.Context, name string) (*models.JobDefinition, error) {
	query := `SELECT ` + jobColumns + ` FROM flowfire_schema.job_definitions WHERE name = $1`
	return r.findOne(ctx, query, name)
}

func (r *PostgresJobStore) findOne(ctx context.Context, query string, arg any) (*models.JobDefinition, error) {
	row := r.db.QueryRowContext(ctx, query, arg)

	def, err := scanJobDefinition(row)
	if err == sql.ErrNoRows {
		return nil, custom_errors.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return def, nil
}

func (r *PostgresJobStore) ListEnabled(ctx context.Context) ([]models.JobDefinition, error) {
	query := `SELECT ` + jobColumns + ` FROM flowfire_schema.job_definitions WHERE enabled = TRUE ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []models.JobDefinition
	for rows.Next() {
		def, err := scanJobDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, rows.Err()
}

func (r *PostgresJobStore) GetAll(ctx context.Context, page int, pageSize int) (*models.PaginationResult[models.JobDefinition], error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	var totalItems int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flowfire_schema.job_definitions`).Scan(&totalItems)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + jobColumns + `
		FROM flowfire_schema.job_definitions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []models.JobDefinition
	for rows.Next() {
		def, err := scanJobDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := int(math.Ceil(float64(totalItems) / float64(pageSize)))
	return &models.PaginationResult[models.JobDefinition]{
		Items:           defs,
		TotalItems:      totalItems,
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}, nil
}

func (r *PostgresJobStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	query := `
		UPDATE flowfire_schema.job_definitions
		SET enabled = $1, updated_at = now()
		WHERE id = $2
	`
	res, err := r.db.ExecContext(ctx, query, enabled, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return custom_errors.ErrJobNotFound
	}
	return nil
}

func (r *PostgresJobStore) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobDefinition(row rowScanner) (*models.JobDefinition, error) {
	var def models.JobDefinition
	var payload []byte
	var baseDelayMs, maxDelayMs int64

	err := row.Scan(
		&def.ID, &def.Name, &def.Expression, &def.HandlerID, &payload,
		&def.Retry.MaxAttempts, &baseDelayMs, &maxDelayMs, &def.Retry.Jitter,
		&def.Enabled, &def.RunOnStartup, &def.CreatedAt, &def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	def.Payload = payload
	def.Retry.BaseDelay = time.Duration(baseDelayMs) * time.Millisecond
	def.Retry.MaxDelay = time.Duration(maxDelayMs) * time.Millisecond
	return &def, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
