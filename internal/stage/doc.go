// Package stage defines the stage capability interface and the single-attempt
// runner. The runner enforces per-stage timeouts and converts timeouts,
// panics, and missing handlers into classified failures; retrying is left to
// the retry policy and sequencing to the coordinator.
package stage
