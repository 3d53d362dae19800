package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"flowfire/custom_errors"
)

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()

	err := reg.Register("etl.sync", func(ctx context.Context, inv Invocation) error { return nil })
	assert.NoError(t, err)

	err = reg.Register("etl.sync", func(ctx context.Context, inv Invocation) error { return nil })
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_Register_Invalid(t *testing.T) {
	reg := NewRegistry()

	assert.Error(t, reg.Register("", func(ctx context.Context, inv Invocation) error { return nil }))
	assert.Error(t, reg.Register("etl.sync", nil))
}

func TestRegistry_Exists(t *testing.T) {
	reg := NewRegistry()
	assert.False(t, reg.Exists("etl.sync"))

	_ = reg.Register("etl.sync", func(ctx context.Context, inv Invocation) error { return nil })
	assert.True(t, reg.Exists("etl.sync"))
}

func TestRegistry_Execute(t *testing.T) {
	reg := NewRegistry()
	scheduled := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	_ = reg.Register("etl.sync", func(ctx context.Context, inv Invocation) error {
		assert.Equal(t, int64(7), inv.JobID)
		assert.Equal(t, 2, inv.Attempt)
		assert.Equal(t, scheduled, inv.ScheduledAt)
		return nil
	})

	err := reg.Execute(context.Background(), "etl.sync", Invocation{
		JobID:       7,
		Attempt:     2,
		ScheduledAt: scheduled,
	})
	assert.NoError(t, err)

	err = reg.Execute(context.Background(), "notfound", Invocation{})
	assert.ErrorIs(t, err, custom_errors.ErrHandlerNotRegistered)

	_ = reg.Register("etl.broken", func(ctx context.Context, inv Invocation) error {
		return errors.New("some error")
	})
	err = reg.Execute(context.Background(), "etl.broken", Invocation{})
	assert.Error(t, err)
	assert.Equal(t, "some error", err.Error())
}

func TestRegistry_List(t *testing.T) {
	reg := NewRegistry()

	_ = reg.Register("etl.sync", func(ctx context.Context, inv Invocation) error { return nil })
	_ = reg.Register("etl.report", func(ctx context.Context, inv Invocation) error { return nil })

	ids := reg.List()
	assert.Len(t, ids, 2)
	assert.ElementsMatch(t, []string{"etl.sync", "etl.report"}, ids)
}
