// Package handler holds the capability table mapping handler ids to the
// operations the coordinator can invoke.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"flowfire/custom_errors"
)

// Invocation carries the per-attempt context passed to a handler. The handler
// body (the actual extract/transform/load work) is an external collaborator;
// the engine only requires it to be a single blocking call that honors ctx.
type Invocation struct {
	JobID       int64
	JobName     string
	Attempt     int
	ScheduledAt time.Time
	Payload     json.RawMessage
}

type Func func(ctx context.Context, inv Invocation) error

// Registry maps handler ids to invocable operations. Handler ids referenced
// by a job definition are validated against the registry when the definition
// is created, so a typo fails at creation time rather than at dispatch.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Func),
	}
}

// Register adds a new handler by id.
func (r *Registry) Register(id string, fn Func) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" || fn == nil {
		return fmt.Errorf("handler must have an id and a function")
	}
	if _, exists := r.handlers[id]; exists {
		return fmt.Errorf("handler '%s' already registered", id)
	}
	r.handlers[id] = fn
	return nil
}

func (r *Registry) Exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.handlers[id]
	return exists
}

func (r *Registry) Execute(ctx context.Context, id string, inv Invocation) error {
	r.mu.Lock()
	fn, exists := r.handlers[id]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("handler '%s': %w", id, custom_errors.ErrHandlerNotRegistered)
	}
	return fn(ctx, inv)
}

func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	return ids
}
