// Package daemon coordinates the long-running telepipe process.
//
// It wires configuration, the run history store, the analytics warehouse, and
// the pipeline scheduler into a single lifecycle with flock-based locking to
// prevent multiple instances, and serves the read-only HTTP API for channel
// activity, message search, run history, and manual triggering.
//
// Keep orchestration logic here: pipeline stages live in their own packages
// while the daemon focuses on startup, shutdown, and high level coordination.
package daemon
