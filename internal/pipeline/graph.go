package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// StageSpec declares one unit of pipeline work. Specs are immutable once the
// graph is built.
type StageSpec struct {
	// Name identifies the stage within its pipeline.
	Name string
	// Needs lists upstream stage names. An empty list marks the entry stage.
	Needs []string
	// Resources lists named resource requirements resolved per run
	// (e.g. "database", "platform-api").
	Resources []string
	// Optional stages resolve to a skip, not a failure, when their underlying
	// dependency is unavailable; downstream stages still run.
	Optional bool
	// Retryable enables backoff-and-retry for transient failures.
	Retryable bool
	// Timeout bounds a single attempt of this stage.
	Timeout time.Duration
}

// Graph is a validated, declaration-ordered set of stages with dependency
// edges. Built once at startup.
type Graph struct {
	name   string
	stages []StageSpec
	byName map[string]int
	order  []StageSpec
}

// NewGraph validates the stage set and computes the execution order.
// Validation requires: unique stage names, every referenced upstream exists,
// exactly one entry stage, and no cycles.
func NewGraph(name string, specs ...StageSpec) (*Graph, error) {
	if name == "" {
		return nil, errors.New("pipeline name is required")
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("pipeline %s declares no stages", name)
	}

	byName := make(map[string]int, len(specs))
	for i, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("pipeline %s: stage %d has no name", name, i)
		}
		if _, dup := byName[spec.Name]; dup {
			return nil, fmt.Errorf("pipeline %s: duplicate stage %s", name, spec.Name)
		}
		byName[spec.Name] = i
	}

	entries := 0
	for _, spec := range specs {
		if len(spec.Needs) == 0 {
			entries++
		}
		for _, upstream := range spec.Needs {
			if _, ok := byName[upstream]; !ok {
				return nil, fmt.Errorf("pipeline %s: stage %s needs unknown stage %s", name, spec.Name, upstream)
			}
			if upstream == spec.Name {
				return nil, fmt.Errorf("pipeline %s: stage %s depends on itself", name, spec.Name)
			}
		}
	}
	if entries != 1 {
		return nil, fmt.Errorf("pipeline %s: expected exactly one entry stage, found %d", name, entries)
	}

	order, err := topologicalOrder(name, specs, byName)
	if err != nil {
		return nil, err
	}

	stages := make([]StageSpec, len(specs))
	copy(stages, specs)
	return &Graph{name: name, stages: stages, byName: byName, order: order}, nil
}

// Name returns the pipeline name.
func (g *Graph) Name() string { return g.name }

// Stages returns the stage specs in declaration order.
func (g *Graph) Stages() []StageSpec {
	cp := make([]StageSpec, len(g.stages))
	copy(cp, g.stages)
	return cp
}

// Stage looks up a stage spec by name.
func (g *Graph) Stage(name string) (StageSpec, bool) {
	idx, ok := g.byName[name]
	if !ok {
		return StageSpec{}, false
	}
	return g.stages[idx], true
}

// TopologicalOrder returns the deterministic linear execution order. Ties are
// broken by declaration order, so the result is stable across runs.
func (g *Graph) TopologicalOrder() []StageSpec {
	cp := make([]StageSpec, len(g.order))
	copy(cp, g.order)
	return cp
}

func topologicalOrder(name string, specs []StageSpec, byName map[string]int) ([]StageSpec, error) {
	indegree := make([]int, len(specs))
	dependents := make([][]int, len(specs))
	for i, spec := range specs {
		indegree[i] = len(spec.Needs)
		for _, upstream := range spec.Needs {
			u := byName[upstream]
			dependents[u] = append(dependents[u], i)
		}
	}

	ready := make([]int, 0, len(specs))
	for i := range specs {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]StageSpec, 0, len(specs))
	for len(ready) > 0 {
		sort.Ints(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, specs[next])
		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(specs) {
		return nil, fmt.Errorf("pipeline %s: dependency cycle detected", name)
	}
	return order, nil
}
