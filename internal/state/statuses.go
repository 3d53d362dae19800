package state

// JobStatus is the per-job execution cycle status. A job sits in StatusIdle
// between cycles; a cycle starts when a fire event is dispatched and ends in
// StatusSucceeded or StatusStopped, after which the job returns to idle.
type JobStatus string

const (
	StatusIdle           JobStatus = "idle"
	StatusDispatched     JobStatus = "dispatched"
	StatusSucceeded      JobStatus = "succeeded"
	StatusFailed         JobStatus = "failed"
	StatusRetryScheduled JobStatus = "retry_scheduled"
	StatusStopped        JobStatus = "stopped"
)

func (s JobStatus) String() string {
	return string(s)
}

// Terminal reports whether the status ends an execution cycle.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusStopped
}

var AllStatuses = []JobStatus{
	StatusIdle,
	StatusDispatched,
	StatusSucceeded,
	StatusFailed,
	StatusRetryScheduled,
	StatusStopped,
}

type Transition struct {
	From JobStatus
	To   JobStatus
}

var ValidTransitions = []Transition{
	{From: StatusIdle, To: StatusDispatched},
	{From: StatusDispatched, To: StatusSucceeded},
	{From: StatusDispatched, To: StatusFailed},
	{From: StatusFailed, To: StatusRetryScheduled},
	{From: StatusFailed, To: StatusStopped},
	{From: StatusRetryScheduled, To: StatusDispatched},
	{From: StatusSucceeded, To: StatusIdle},
	{From: StatusStopped, To: StatusIdle},
}

func IsValidTransition(from, to JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}
