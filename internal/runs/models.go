package runs

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ExecStatus represents the lifecycle of a single stage execution.
type ExecStatus string

const (
	ExecPending   ExecStatus = "pending"
	ExecRunning   ExecStatus = "running"
	ExecSucceeded ExecStatus = "succeeded"
	ExecFailed    ExecStatus = "failed"
	ExecSkipped   ExecStatus = "skipped"
)

var runStatuses = map[Status]struct{}{
	StatusPending:   {},
	StatusRunning:   {},
	StatusSucceeded: {},
	StatusFailed:    {},
}

// ParseStatus converts a string into a known run Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := runStatuses[normalized]
	return normalized, ok
}

// Terminal reports whether the run has left the running state for good.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Run is one end-to-end execution of a pipeline, triggered once.
type Run struct {
	ID           string
	Pipeline     string
	Status       Status
	TriggerTime  time.Time
	StartedAt    *time.Time
	EndedAt      *time.Time
	FailedStage  string
	ErrorMessage string
	Executions   []StageExecution
}

// StageExecution records one stage's outcome within a specific run. It is
// immutable once the stage resolves.
type StageExecution struct {
	ID            int64
	RunID         string
	Stage         string
	Position      int
	Status        ExecStatus
	AttemptCount  int
	StartedAt     *time.Time
	EndedAt       *time.Time
	InputPayload  string
	OutputPayload string
	SkipReason    string
	ErrorKind     string
	ErrorMessage  string
}

// Duration returns the wall-clock time the run occupied, zero when unknown.
func (r Run) Duration() time.Duration {
	if r.StartedAt == nil || r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(*r.StartedAt)
}
