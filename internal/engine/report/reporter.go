// Package report implements the read-side views of the engine: the outdated
// target listing and the DOT export of the dependency graph.
package report

import (
	"fmt"
	"slices"
	"strings"

	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/engine/staleness"
)

// Reporter answers "what would build" without building anything. It never
// writes cache entries, never restores outputs, and is safe to call
// repeatedly and concurrently with other readers.
type Reporter struct {
	checker *staleness.Checker
}

// NewReporter creates a new Reporter.
func NewReporter(checker *staleness.Checker) *Reporter {
	return &Reporter{checker: checker}
}

// Outdated returns the names of all targets the scheduler would mark Stale,
// in dependency order.
func (r *Reporter) Outdated(graph *domain.Graph) ([]string, error) {
	if err := graph.Validate(); err != nil {
		return nil, err
	}

	root := graph.Root()
	fingerprints := make(map[domain.InternedString]string, graph.TargetCount())
	var outdated []string

	for target := range graph.Walk() {
		upstream := make([]string, 0, len(target.Deps))
		for _, dep := range target.Deps {
			upstream = append(upstream, fingerprints[dep])
		}

		fp, err := r.checker.Fingerprint(&target, root, upstream)
		if err != nil {
			return nil, err
		}
		fingerprints[target.Name] = fp

		stale, err := r.checker.Evaluate(&target, root, fp, false)
		if err != nil {
			return nil, err
		}
		if stale {
			outdated = append(outdated, target.Name.String())
		}
	}

	return outdated, nil
}

// DOT renders the dependency graph in Graphviz DOT format. Output is
// deterministic: nodes and edges are emitted in sorted name order.
func DOT(graph *domain.Graph) string {
	// Targets iterates the full target set in lexical order, so DOT works on
	// any loaded graph whether or not Validate has run.
	names := make([]string, 0, graph.TargetCount())
	for target := range graph.Targets() {
		names = append(names, target.Name.String())
	}

	var b strings.Builder
	b.WriteString("digraph loom {\n")
	b.WriteString("  rankdir=\"LR\";\n")

	for _, name := range names {
		fmt.Fprintf(&b, "  %q;\n", name)
	}

	for _, name := range names {
		target, _ := graph.GetTarget(domain.NewInternedString(name))
		deps := make([]string, 0, len(target.Deps))
		for _, dep := range target.Deps {
			deps = append(deps, dep.String())
		}
		slices.Sort(deps)
		for _, dep := range deps {
			fmt.Fprintf(&b, "  %q -> %q;\n", dep, name)
		}
	}

	b.WriteString("}\n")
	return b.String()
}
