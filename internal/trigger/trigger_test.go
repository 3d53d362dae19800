package trigger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowfire/internal/clock"
	"flowfire/internal/models"
)

// ===================== JobStore Mock =========================
type MockJobStore struct {
	MockCreate      func(ctx context.Context, def models.JobDefinition) (int64, error)
	MockUpdate      func(ctx context.Context, def models.JobDefinition) error
	MockFindByID    func(ctx context.Context, id int64) (*models.JobDefinition, error)
	MockFindByName  func(ctx context.Context, name string) (*models.JobDefinition, error)
	MockListEnabled func(ctx context.Context) ([]models.JobDefinition, error)
	MockGetAll      func(ctx context.Context, page int, pageSize int) (*models.PaginationResult[models.JobDefinition], error)
	MockSetEnabled  func(ctx context.Context, id int64, enabled bool) error
	MockClose       func() error
}

func (m *MockJobStore) Create(ctx context.Context, def models.JobDefinition) (int64, error) {
	return m.MockCreate(ctx, def)
}
func (m *MockJobStore) Update(ctx context.Context, def models.JobDefinition) error {
	return m.MockUpdate(ctx, def)
}
func (m *MockJobStore) FindByID(ctx context.Context, id int64) (*models.JobDefinition, error) {
	return m.MockFindByID(ctx, id)
}
func (m *MockJobStore) FindByName(ctx context.Context, name string) (*models.JobDefinition, error) {
	return m.MockFindByName(ctx, name)
}
func (m *MockJobStore) ListEnabled(ctx context.Context) ([]models.JobDefinition, error) {
	return m.MockListEnabled(ctx)
}
func (m *MockJobStore) GetAll(ctx context.Context, page int, pageSize int) (*models.PaginationResult[models.JobDefinition], error) {
	return m.MockGetAll(ctx, page, pageSize)
}
func (m *MockJobStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	return m.MockSetEnabled(ctx, id, enabled)
}
func (m *MockJobStore) Close() error {
	return m.MockClose()
}

// ===================== HistoryStore Mock =========================
type MockHistoryStore struct {
	MockAppend      func(ctx context.Context, attempt models.ExecutionAttempt) error
	MockLatestByJob func(ctx context.Context, jobID int64) (*models.ExecutionAttempt, error)
	MockRange       func(ctx context.Context, jobID int64, from, to time.Time, page int, pageSize int) (*models.PaginationResult[models.ExecutionAttempt], error)
	MockPrune       func(ctx context.Context, before time.Time, requestedBy string) (int64, error)
	MockClose       func() error
}

func (m *MockHistoryStore) Append(ctx context.Context, attempt models.ExecutionAttempt) error {
	return m.MockAppend(ctx, attempt)
}
func (m *MockHistoryStore) LatestByJob(ctx context.Context, jobID int64) (*models.ExecutionAttempt, error) {
	return m.MockLatestByJob(ctx, jobID)
}
func (m *MockHistoryStore) Range(ctx context.Context, jobID int64, from, to time.Time, page int, pageSize int) (*models.PaginationResult[models.ExecutionAttempt], error) {
	return m.MockRange(ctx, jobID, from, to, page, pageSize)
}
func (m *MockHistoryStore) Prune(ctx context.Context, before time.Time, requestedBy string) (int64, error) {
	return m.MockPrune(ctx, before, requestedBy)
}
func (m *MockHistoryStore) Close() error {
	return m.MockClose()
}

// ===================== Trigger Tests =========================

func noHistory() *MockHistoryStore {
	return &MockHistoryStore{
		MockLatestByJob: func(ctx context.Context, jobID int64) (*models.ExecutionAttempt, error) {
			return nil, nil
		},
	}
}

func everyMinuteJob(id int64, createdAt time.Time) models.JobDefinition {
	return models.JobDefinition{
		ID:         id,
		Name:       "sync",
		Expression: "* * * * *",
		HandlerID:  "etl.sync",
		Enabled:    true,
		CreatedAt:  createdAt,
	}
}

func TestTrigger_Evaluate_FiresDueJob(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 30, 0, time.UTC)
	clk := clock.NewFake(now)
	def := everyMinuteJob(1, now.Add(-time.Hour))

	jobs := &MockJobStore{
		MockListEnabled: func(ctx context.Context) ([]models.JobDefinition, error) {
			return []models.JobDefinition{def}, nil
		},
	}

	var fired []models.FireEvent
	tr := New(jobs, noHistory(), clk, time.Second, func(ev models.FireEvent) error {
		fired = append(fired, ev)
		return nil
	})

	tr.Evaluate(context.Background())

	require.Len(t, fired, 1)
	assert.Equal(t, int64(1), fired[0].JobID)
	assert.Equal(t, 1, fired[0].Attempt)
	assert.False(t, fired[0].ScheduledAt.Before(now), "fire time must never be earlier than now")
}

func TestTrigger_Evaluate_OneBoundaryFiresOnce(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 30, 0, time.UTC)
	clk := clock.NewFake(now)
	def := everyMinuteJob(1, now.Add(-time.Hour))

	jobs := &MockJobStore{
		MockListEnabled: func(ctx context.Context) ([]models.JobDefinition, error) {
			return []models.JobDefinition{def}, nil
		},
	}

	var fired int
	tr := New(jobs, noHistory(), clk, time.Second, func(ev models.FireEvent) error {
		fired++
		return nil
	})

	tr.Evaluate(context.Background())
	tr.Evaluate(context.Background()) // same tick window, nothing new due
	assert.Equal(t, 1, fired)

	clk.Advance(time.Minute)
	tr.Evaluate(context.Background())
	assert.Equal(t, 2, fired)
}

func TestTrigger_Evaluate_NewJobWaitsForBoundary(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 10, 0, time.UTC)
	clk := clock.NewFake(now)

	// Created seconds ago, daily schedule: nothing is due yet.
	def := models.JobDefinition{
		ID:         1,
		Expression: "0 0 * * *",
		Enabled:    true,
		CreatedAt:  now.Add(-10 * time.Second),
	}

	jobs := &MockJobStore{
		MockListEnabled: func(ctx context.Context) ([]models.JobDefinition, error) {
			return []models.JobDefinition{def}, nil
		},
	}

	var fired int
	tr := New(jobs, noHistory(), clk, time.Second, func(ev models.FireEvent) error {
		fired++
		return nil
	})

	tr.Evaluate(context.Background())
	assert.Equal(t, 0, fired)
}

func TestTrigger_Evaluate_RunOnStartupFiresImmediately(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 10, 0, time.UTC)
	clk := clock.NewFake(now)

	def := models.JobDefinition{
		ID:           1,
		Expression:   "0 0 * * *",
		Enabled:      true,
		RunOnStartup: true,
		CreatedAt:    now.Add(-10 * time.Second),
	}

	jobs := &MockJobStore{
		MockListEnabled: func(ctx context.Context) ([]models.JobDefinition, error) {
			return []models.JobDefinition{def}, nil
		},
	}

	var fired []models.FireEvent
	tr := New(jobs, noHistory(), clk, time.Second, func(ev models.FireEvent) error {
		fired = append(fired, ev)
		return nil
	})

	tr.Evaluate(context.Background())
	require.Len(t, fired, 1)
	assert.Equal(t, now, fired[0].ScheduledAt)

	// Startup fire happens once, then the normal schedule applies.
	tr.Evaluate(context.Background())
	assert.Len(t, fired, 1)
}

func TestTrigger_Evaluate_ClockSkewDoesNotRefire(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 30, 0, time.UTC)
	clk := clock.NewFake(now)
	def := everyMinuteJob(1, now.Add(-time.Hour))

	jobs := &MockJobStore{
		MockListEnabled: func(ctx context.Context) ([]models.JobDefinition, error) {
			return []models.JobDefinition{def}, nil
		},
	}
	history := &MockHistoryStore{
		MockLatestByJob: func(ctx context.Context, jobID int64) (*models.ExecutionAttempt, error) {
			// Ledger says the job already ran five minutes in the future.
			return &models.ExecutionAttempt{
				JobID:       jobID,
				ScheduledAt: now.Add(5 * time.Minute),
				Outcome:     models.OutcomeSucceeded,
			}, nil
		},
	}

	var fired int
	tr := New(jobs, history, clk, time.Second, func(ev models.FireEvent) error {
		fired++
		return nil
	})

	tr.Evaluate(context.Background())
	assert.Equal(t, 0, fired)
}

func TestTrigger_Evaluate_SubmitErrorDoesNotRefireBoundary(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 30, 0, time.UTC)
	clk := clock.NewFake(now)
	def := everyMinuteJob(1, now.Add(-time.Hour))

	jobs := &MockJobStore{
		MockListEnabled: func(ctx context.Context) ([]models.JobDefinition, error) {
			return []models.JobDefinition{def}, nil
		},
	}

	var fired int
	tr := New(jobs, noHistory(), clk, time.Second, func(ev models.FireEvent) error {
		fired++
		return errors.New("queue full")
	})

	// The coordinator records the drop as a missed fire; the trigger must
	// not resubmit the same boundary on the next pass.
	tr.Evaluate(context.Background())
	tr.Evaluate(context.Background())
	assert.Equal(t, 1, fired)
}

func TestTrigger_Evaluate_ListError(t *testing.T) {
	clk := clock.NewFake(time.Now())
	jobs := &MockJobStore{
		MockListEnabled: func(ctx context.Context) ([]models.JobDefinition, error) {
			return nil, errors.New("db down")
		},
	}

	tr := New(jobs, noHistory(), clk, time.Second, func(ev models.FireEvent) error {
		t.Fatal("nothing should fire")
		return nil
	})

	tr.Evaluate(context.Background())
}

func TestTrigger_Evaluate_EvictsStaleCacheEntries(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 30, 0, time.UTC)
	clk := clock.NewFake(now)

	defs := []models.JobDefinition{everyMinuteJob(1, now.Add(-time.Hour))}
	jobs := &MockJobStore{
		MockListEnabled: func(ctx context.Context) ([]models.JobDefinition, error) {
			return defs, nil
		},
	}

	tr := New(jobs, noHistory(), clk, time.Second, func(ev models.FireEvent) error {
		return nil
	})

	tr.Evaluate(context.Background())
	tr.mu.Lock()
	require.Len(t, tr.emitted, 1)
	require.Len(t, tr.parsed, 1)
	tr.mu.Unlock()

	// Job disabled or deleted: the caches must not keep its entries.
	defs = nil
	tr.Evaluate(context.Background())
	tr.mu.Lock()
	assert.Empty(t, tr.emitted)
	assert.Empty(t, tr.parsed)
	tr.mu.Unlock()
}

func TestTrigger_Evaluate_UnparseableExpressionSkipped(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 30, 0, time.UTC)
	clk := clock.NewFake(now)

	bad := models.JobDefinition{ID: 1, Expression: "garbage", Enabled: true, CreatedAt: now.Add(-time.Hour)}
	good := everyMinuteJob(2, now.Add(-time.Hour))

	jobs := &MockJobStore{
		MockListEnabled: func(ctx context.Context) ([]models.JobDefinition, error) {
			return []models.JobDefinition{bad, good}, nil
		},
	}

	var fired []models.FireEvent
	tr := New(jobs, noHistory(), clk, time.Second, func(ev models.FireEvent) error {
		fired = append(fired, ev)
		return nil
	})

	tr.Evaluate(context.Background())
	require.Len(t, fired, 1)
	assert.Equal(t, int64(2), fired[0].JobID)
}
