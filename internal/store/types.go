// Package store provides SQLite-backed persistence for workflow executions.
package store

import "time"

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusWaiting   Status = "waiting_for_input"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDetached  Status = "detached"
	StatusStale     Status = "stale"
	StatusCancelled Status = "cancelled"

	// statusWaitingAlias is the older spelling of StatusWaiting.
	statusWaitingAlias Status = "waiting_for_answer"
)

// ParseStatus normalizes s, mapping the waiting_for_answer alias. It reports
// false for an unknown status.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	if st == statusWaitingAlias {
		return StatusWaiting, true
	}
	switch st {
	case StatusIdle, StatusRunning, StatusWaiting, StatusCompleted,
		StatusFailed, StatusDetached, StatusStale, StatusCancelled:
		return st, true
	}
	return st, false
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Active reports whether a process may still be attached to the execution.
func (s Status) Active() bool {
	switch s {
	case StatusRunning, StatusWaiting, StatusDetached, StatusStale:
		return true
	}
	return false
}

// Launch modes.
const (
	ModeOneShot   = "oneshot"
	ModeStreaming = "streaming"
	ModeDetached  = "detached"
)

// ActiveStatuses lists the statuses for which Active is true.
var ActiveStatuses = []Status{StatusRunning, StatusWaiting, StatusDetached, StatusStale}

// Execution is one run of a skill against a project, including every
// resume cycle.
type Execution struct {
	ID            string            `json:"id"`
	ProjectID     string            `json:"projectId,omitempty"`
	ProjectPath   string            `json:"projectPath"`
	Skill         string            `json:"skill"`
	Mode          string            `json:"mode"`
	Status        Status            `json:"status"`
	CurrentPhase  string            `json:"currentPhase,omitempty"`
	SessionID     string            `json:"sessionId,omitempty"`
	Answers       map[string]string `json:"answers"`
	PID           int               `json:"pid,omitempty"`
	CostUSD       float64           `json:"costUsd,omitempty"`
	Error         string            `json:"error,omitempty"`
	EventsEmitted int               `json:"eventsEmitted"`
	Artifacts     []string          `json:"artifactsCreated"`
	StartedAt     time.Time         `json:"startedAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	CompletedAt   *time.Time        `json:"completedAt,omitempty"`
}
