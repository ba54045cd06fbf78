// Package services provides the shared error taxonomy and context plumbing
// used across pipeline stages and the orchestration core.
//
// Errors are classified by wrapping them with sentinel markers (ErrTransient,
// ErrValidation, ErrConfiguration, ErrNotFound, ErrTimeout); callers inspect
// them with errors.Is rather than string matching. Context helpers carry run,
// pipeline, stage, and request identifiers so structured logs stay consistent
// without threading identifiers through every signature.
package services
