package store

import (
	"context"

	"flowfire/internal/models"
)

// JobStore defines the interface for managing job definitions in the DB.
type JobStore interface {
	// Create inserts a new definition and returns its assigned ID.
	Create(ctx context.Context, def models.JobDefinition) (int64, error)

	// Update replaces the mutable fields (expression, handler, payload,
	// retry policy, flags) of an existing definition.
	Update(ctx context.Context, def models.JobDefinition) error

	FindByID(ctx context.Context, id int64) (*models.JobDefinition, error)

	FindByName(ctx context.Context, name string) (*models.JobDefinition, error)

	// ListEnabled returns every enabled definition; this is the trigger
	// loop's working set.
	ListEnabled(ctx context.Context) ([]models.JobDefinition, error)

	GetAll(ctx context.Context, page int, pageSize int) (*models.PaginationResult[models.JobDefinition], error)

	// SetEnabled enables or disables a definition. Disabling takes effect
	// before the next dispatch; it never interrupts a running attempt.
	SetEnabled(ctx context.Context, id int64, enabled bool) error

	// Close closes the database
	Close() error
}
