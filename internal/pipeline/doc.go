// Package pipeline defines the static pipeline structure and the three-way
// stage result type shared by the runner, retry policy, and coordinator.
//
// A Graph is built once at startup from declaration-ordered StageSpecs and
// validated for cycles, unknown upstreams, and a single entry stage. The
// coordinator executes stages in the graph's deterministic topological order,
// feeding each stage the previous successful stage's payload.
package pipeline
