package pipeline

import (
	"time"
)

// Outcome is the three-way result classification every stage invocation
// produces: success with a payload, an intentional skip, or a failure whose
// error carries the services taxonomy marker.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailure Outcome = "failure"
)

// Payload is the machine-readable output a stage hands to its downstream
// neighbor. Data holds stage-specific counters and file references.
type Payload struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Result is what a stage invocation resolves to. Exactly one of Payload,
// SkipReason, or Err is meaningful depending on Outcome.
type Result struct {
	Outcome    Outcome
	Payload    Payload
	SkipReason string
	Err        error
}

// Success builds a successful result carrying the given data payload.
func Success(data map[string]any) Result {
	return Result{
		Outcome: OutcomeSuccess,
		Payload: Payload{
			Status:    string(OutcomeSuccess),
			Timestamp: time.Now().UTC(),
			Data:      data,
		},
	}
}

// Skip builds a skip result for an optional stage whose dependency is absent.
func Skip(reason string) Result {
	return Result{
		Outcome:    OutcomeSkipped,
		SkipReason: reason,
		Payload: Payload{
			Status:    string(OutcomeSkipped),
			Timestamp: time.Now().UTC(),
		},
	}
}

// Failure builds a failed result from a classified error.
func Failure(err error) Result {
	return Result{
		Outcome: OutcomeFailure,
		Err:     err,
		Payload: Payload{
			Status:    string(OutcomeFailure),
			Timestamp: time.Now().UTC(),
		},
	}
}

// Succeeded reports whether the result is a success.
func (r Result) Succeeded() bool { return r.Outcome == OutcomeSuccess }

// Skipped reports whether the result is an intentional skip.
func (r Result) Skipped() bool { return r.Outcome == OutcomeSkipped }

// Failed reports whether the result is a failure.
func (r Result) Failed() bool { return r.Outcome == OutcomeFailure }
