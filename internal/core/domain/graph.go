// Package domain contains the core domain models for the target dependency graph.
package domain

import (
	"fmt"
	"iter"
	"slices"
	"strings"

	"go.trai.ch/zerr"
)

// Graph is the directed acyclic dependency graph over targets.
// An edge A -> B (A depends on B) means B must be built before A.
type Graph struct {
	targets        map[InternedString]Target
	dependents     map[InternedString][]InternedString
	executionOrder []InternedString
	root           string
	vars           map[string]string
}

// NewGraph creates a new empty Graph.
func NewGraph() *Graph {
	return &Graph{
		targets:    make(map[InternedString]Target),
		dependents: make(map[InternedString][]InternedString),
	}
}

// SetRoot sets the project root directory all relative paths resolve against.
func (g *Graph) SetRoot(root string) { g.root = root }

// Root returns the project root directory.
func (g *Graph) Root() string { return g.root }

// SetVars attaches the plan-level vars used for placeholder expansion.
func (g *Graph) SetVars(vars map[string]string) { g.vars = vars }

// Var looks up a plan var by name.
func (g *Graph) Var(name string) (string, bool) {
	v, ok := g.vars[name]
	return v, ok
}

// AddTarget adds a target to the graph.
// It returns an error if a target with the same name already exists.
func (g *Graph) AddTarget(t *Target) error {
	if _, exists := g.targets[t.Name]; exists {
		return zerr.With(fmt.Errorf("%w", ErrTargetAlreadyExists), "target", t.Name.String())
	}
	g.targets[t.Name] = *t
	for _, dep := range t.Deps {
		g.dependents[dep] = append(g.dependents[dep], t.Name)
	}
	return nil
}

// GetTarget returns the target with the given name.
func (g *Graph) GetTarget(name InternedString) (Target, bool) {
	t, ok := g.targets[name]
	return t, ok
}

// TargetCount returns the number of targets in the graph.
func (g *Graph) TargetCount() int { return len(g.targets) }

// Dependents returns the targets that directly depend on name.
func (g *Graph) Dependents(name InternedString) []InternedString {
	return g.dependents[name]
}

// Validate checks for unknown references and cycles using a depth-first
// topological sort, populating the execution order on success.
// A cycle is reported as a *CycleError carrying the ordered cycle path.
func (g *Graph) Validate() error {
	g.executionOrder = make([]InternedString, 0, len(g.targets))
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[InternedString]int, len(g.targets))
	var path []InternedString

	var visit func(u InternedString) error
	visit = func(u InternedString) error {
		state[u] = visiting
		path = append(path, u)

		target := g.targets[u]
		for _, dep := range target.Deps {
			if _, exists := g.targets[dep]; !exists {
				return &UnknownReferenceError{Target: u.String(), Reference: dep.String()}
			}
			switch state[dep] {
			case visiting:
				return cycleError(path, dep)
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		state[u] = visited
		path = path[:len(path)-1]
		g.executionOrder = append(g.executionOrder, u)
		return nil
	}

	for _, name := range g.sortedNames() {
		if state[name] == unvisited {
			if err := visit(name); err != nil {
				return err
			}
		}
	}

	return nil
}

// Walk returns an iterator yielding targets in execution order
// (dependencies before dependents). Validate must have succeeded.
func (g *Graph) Walk() iter.Seq[Target] {
	return func(yield func(Target) bool) {
		for _, name := range g.executionOrder {
			if !yield(g.targets[name]) {
				return
			}
		}
	}
}

// Targets returns an iterator yielding all targets in lexical name order.
// Unlike Walk it does not require a prior Validate.
func (g *Graph) Targets() iter.Seq[Target] {
	return func(yield func(Target) bool) {
		for _, name := range g.sortedNames() {
			if !yield(g.targets[name]) {
				return
			}
		}
	}
}

// sortedNames returns all target names in lexical order so that Validate and
// Walk are deterministic across runs.
func (g *Graph) sortedNames() []InternedString {
	names := make([]InternedString, 0, len(g.targets))
	for name := range g.targets {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b InternedString) int {
		return strings.Compare(a.String(), b.String())
	})
	return names
}

// cycleError builds a *CycleError from the DFS path, starting at the first
// occurrence of the closing node and repeating it at the end.
func cycleError(path []InternedString, dep InternedString) error {
	startIdx := 0
	for i, node := range path {
		if node == dep {
			startIdx = i
			break
		}
	}

	cycle := make([]string, 0, len(path)-startIdx+1)
	for _, node := range path[startIdx:] {
		cycle = append(cycle, node.String())
	}
	cycle = append(cycle, dep.String())

	return &CycleError{Cycle: cycle}
}
