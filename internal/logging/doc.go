// Package logging configures slog for telepipe.
//
// Two output formats are supported: a human console format with optional ANSI
// color when stdout is a terminal, and JSON for machine consumption. Field
// names for pipeline, run, and stage identifiers are standardized here and
// extracted from context via WithContext so every component logs the same
// correlation keys.
package logging
