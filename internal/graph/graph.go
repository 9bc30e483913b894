// Package graph builds the pipeline step dependency graph and produces a
// deterministic execution order via depth-first topological sort.
package graph

import (
	"fmt"

	"github.com/inkwellmd/inkwell/internal/config"
)

// CycleError reports a dependency cycle, naming a step on the cycle.
type CycleError struct {
	Step string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected involving step %q", e.Step)
}

// UnknownDependencyError reports an explicit dependency on a step that was
// not declared earlier in the pipeline.
type UnknownDependencyError struct {
	Step       string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("step %q depends on unknown step %q", e.Step, e.Dependency)
}

// Graph is the DAG of pipeline steps. Edges point from a step to the steps
// it depends on.
type Graph struct {
	order []string // declaration order
	steps map[string]*config.Step
	edges map[string][]string
}

// Build constructs the graph from an ordered step list.
//
// Explicit depends_on entries must name previously declared steps. A step
// without explicit dependencies implicitly depends on the immediately
// preceding declaration; the first step has none.
func Build(steps []config.Step) (*Graph, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("pipeline must have at least one step")
	}

	g := &Graph{
		order: make([]string, 0, len(steps)),
		steps: make(map[string]*config.Step, len(steps)),
		edges: make(map[string][]string, len(steps)),
	}

	for i := range steps {
		step := &steps[i]
		if _, exists := g.steps[step.Name]; exists {
			return nil, fmt.Errorf("duplicate step name %q", step.Name)
		}
		g.order = append(g.order, step.Name)
		g.steps[step.Name] = step

		if step.DependsOn != nil {
			for _, dep := range step.DependsOn {
				if _, declared := g.steps[dep]; !declared {
					return nil, &UnknownDependencyError{Step: step.Name, Dependency: dep}
				}
				g.edges[step.Name] = append(g.edges[step.Name], dep)
			}
		} else if i > 0 {
			g.edges[step.Name] = append(g.edges[step.Name], steps[i-1].Name)
		}
	}

	return g, nil
}

// Step returns the declaration for a step name.
func (g *Graph) Step(name string) (*config.Step, bool) {
	s, ok := g.steps[name]
	return s, ok
}

// Nodes returns all step names in declaration order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.order...)
}

// DependenciesOf returns the direct (not transitive) predecessors of a step,
// in declaration order of the edges.
func (g *Graph) DependenciesOf(name string) []string {
	return append([]string(nil), g.edges[name]...)
}

// TopologicalSort returns the steps in execution order: every step exactly
// once, each dependency strictly before its dependents. Ties are broken by
// declaration-order DFS visitation, so the result is deterministic; callers
// must not rely on any further ordering property. Returns a CycleError when
// the declared dependencies form a cycle.
func (g *Graph) TopologicalSort() ([]string, error) {
	visited := make(map[string]bool, len(g.order))
	inStack := make(map[string]bool, len(g.order))
	order := make([]string, 0, len(g.order))

	var visit func(node string) error
	visit = func(node string) error {
		visited[node] = true
		inStack[node] = true
		for _, dep := range g.edges[node] {
			if inStack[dep] {
				return &CycleError{Step: dep}
			}
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		delete(inStack, node)
		order = append(order, node)
		return nil
	}

	for _, node := range g.order {
		if !visited[node] {
			if err := visit(node); err != nil {
				return nil, err
			}
		}
	}

	return order, nil
}
