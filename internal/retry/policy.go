// Package retry decides whether and when a failed attempt runs again.
package retry

import (
	"math"
	"math/rand"
	"time"

	"flowfire/internal/models"
)

// Decision is the outcome of evaluating a failed attempt against its job's
// retry policy: either stop, or run attempt Attempt at time At.
type Decision struct {
	Retry   bool
	At      time.Time
	Attempt int
}

// Stop is the terminal decision.
var Stop = Decision{}

// Decide maps (attempt number, outcome, policy) to a Decision. It is a pure
// function of its arguments; jitter randomness comes from the injected rnd.
//
// The decision is Stop when the attempt succeeded, when the attempt counter
// has reached MaxAttempts, when the definition was disabled after dispatch,
// and when the policy parameters are malformed. Malformed parameters fail
// closed: they can never produce an unbounded retry loop.
func Decide(attempt int, outcome models.Outcome, policy models.RetryPolicy, enabled bool, now time.Time, rnd *rand.Rand) Decision {
	if !outcome.Failure() {
		return Stop
	}
	if !enabled {
		return Stop
	}
	if policy.MaxAttempts <= 0 || policy.BaseDelay <= 0 || policy.MaxDelay < policy.BaseDelay {
		return Stop
	}
	if attempt >= policy.MaxAttempts {
		return Stop
	}

	return Decision{
		Retry:   true,
		At:      now.Add(Backoff(attempt, policy, rnd)),
		Attempt: attempt + 1,
	}
}

// Backoff computes min(BaseDelay * 2^(attempt-1) * jitter, MaxDelay). The
// jitter factor is uniform in [0.5, 1.5) when enabled, 1 otherwise.
func Backoff(attempt int, policy models.RetryPolicy, rnd *rand.Rand) time.Duration {
	factor := 1.0
	if policy.Jitter && rnd != nil {
		factor = 0.5 + rnd.Float64()
	}

	delay := float64(policy.BaseDelay) * math.Pow(2, float64(attempt-1)) * factor
	if delay < 0 || delay > float64(policy.MaxDelay) {
		return policy.MaxDelay
	}
	return time.Duration(delay)
}
