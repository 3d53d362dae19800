package models

import (
	"encoding/json"
	"time"
)

// RetryPolicy holds the bounded-exponential-backoff parameters attached to a
// job definition.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	Jitter      bool          `json:"jitter"`
}

// DefaultRetryPolicy applies when a definition is created without explicit
// retry parameters.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
	}
}

// JobDefinition is the administrative record for a scheduled job. It is
// created by configuration load or the admin surface and is never mutated by
// the engine itself.
type JobDefinition struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Expression   string          `json:"expression"`
	HandlerID    string          `json:"handler_id"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Retry        RetryPolicy     `json:"retry"`
	Enabled      bool            `json:"enabled"`
	RunOnStartup bool            `json:"run_on_startup"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
