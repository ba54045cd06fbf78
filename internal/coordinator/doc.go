// Package coordinator drives pipeline runs: stage ordering, payload chaining,
// retry application, run-history recording, and terminal notification.
package coordinator
