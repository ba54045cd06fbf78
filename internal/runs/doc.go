// Package runs persists pipeline run provenance in SQLite.
//
// Each trigger produces one run row plus one stage_executions row per stage,
// written by the coordinator as stages start and resolve. History is queried
// by pipeline name and time range for the CLI table view and the daemon API.
package runs
