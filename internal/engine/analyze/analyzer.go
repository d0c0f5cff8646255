// Package analyze turns a loaded plan into a validated dependency graph.
package analyze

import (
	"regexp"
	"slices"
	"strings"

	"github.com/loomworks/loom/internal/core/domain"
)

// placeholderRegex matches ${name} references inside build expression tokens.
var placeholderRegex = regexp.MustCompile(`\$\{([a-zA-Z0-9_-]+)\}`)

// Analyzer builds the dependency graph from a plan.
//
// Analysis is static and conservative: edges come from the declared
// dependency lists plus ${name} placeholders found in the build expressions.
// Dynamically computed dependencies are invisible to it and must be declared
// explicitly by the plan author.
type Analyzer struct{}

// NewAnalyzer creates a new Analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze produces a validated graph from the plan.
//
// It fails with a *domain.UnknownReferenceError if a dependency or
// placeholder names something that is neither a target nor a plan var, and
// with a *domain.CycleError if the extracted edges are not acyclic.
func (a *Analyzer) Analyze(p *domain.Plan) (*domain.Graph, error) {
	targetNames := make(map[string]bool, len(p.Targets))
	for _, spec := range p.Targets {
		targetNames[spec.Name] = true
	}

	g := domain.NewGraph()
	g.SetRoot(p.Root)
	g.SetVars(p.Vars)

	for _, spec := range p.Targets {
		deps, err := a.extractDeps(p, spec, targetNames)
		if err != nil {
			return nil, err
		}

		target := buildTarget(spec, deps)
		if err := g.AddTarget(target); err != nil {
			return nil, err
		}
	}

	// Cycle detection and unknown-dependency validation in one pass.
	if err := g.Validate(); err != nil {
		return nil, err
	}

	// Placeholders expand to upstream output paths, so a referenced target
	// with no outputs is a plan error, caught here rather than at dispatch.
	if err := validateReferencedOutputs(p, g); err != nil {
		return nil, err
	}

	return g, nil
}

// extractDeps merges the declared dependency list with the target references
// scanned from the build expression.
func (a *Analyzer) extractDeps(p *domain.Plan, spec domain.TargetSpec, targetNames map[string]bool) ([]string, error) {
	deps := slices.Clone(spec.Deps)

	for _, dep := range spec.Deps {
		if !targetNames[dep] {
			return nil, &domain.UnknownReferenceError{Target: spec.Name, Reference: dep}
		}
	}

	for _, ref := range scanReferences(spec.Run) {
		switch {
		case ref == spec.Name:
			// Self-reference closes a one-node cycle.
			return nil, &domain.CycleError{Cycle: []string{spec.Name, spec.Name}}
		case targetNames[ref]:
			deps = append(deps, ref)
		default:
			if _, isVar := p.Vars[ref]; !isVar {
				return nil, &domain.UnknownReferenceError{Target: spec.Name, Reference: ref}
			}
		}
	}

	slices.Sort(deps)
	return slices.Compact(deps), nil
}

// scanReferences returns all ${name} identifiers found in the argv tokens.
func scanReferences(argv []string) []string {
	var refs []string
	for _, token := range argv {
		for _, match := range placeholderRegex.FindAllStringSubmatch(token, -1) {
			refs = append(refs, match[1])
		}
	}
	return refs
}

func validateReferencedOutputs(p *domain.Plan, g *domain.Graph) error {
	for _, spec := range p.Targets {
		for _, ref := range scanReferences(spec.Run) {
			// Expansion resolves targets before vars, so a name shadowing a
			// var is still held to the output requirement.
			upstream, ok := g.GetTarget(domain.NewInternedString(ref))
			if !ok {
				continue
			}
			if upstream.PrimaryOutput() == "" {
				return &domain.UnknownReferenceError{Target: spec.Name, Reference: ref + " (" + domain.ErrReferenceHasNoOutputs.Error() + ")"}
			}
		}
	}
	return nil
}

// ExpandArgv resolves every ${name} placeholder in the target's build
// expression: target references become the upstream's primary output path
// and var references become the var value. Unknown names were rejected by
// Analyze, so expansion cannot fail for an analyzed graph.
func ExpandArgv(g *domain.Graph, t *domain.Target) []string {
	argv := make([]string, len(t.Run))
	for i, token := range t.Run {
		argv[i] = placeholderRegex.ReplaceAllStringFunc(token, func(m string) string {
			name := strings.TrimSuffix(strings.TrimPrefix(m, "${"), "}")
			if upstream, ok := g.GetTarget(domain.NewInternedString(name)); ok {
				return upstream.PrimaryOutput()
			}
			if v, ok := g.Var(name); ok {
				return v
			}
			return m
		})
	}
	return argv
}

func buildTarget(spec domain.TargetSpec, deps []string) *domain.Target {
	return &domain.Target{
		Name:       domain.NewInternedString(spec.Name),
		Run:        slices.Clone(spec.Run),
		Inputs:     intern(spec.Inputs),
		Outputs:    intern(spec.Outputs),
		Deps:       intern(deps),
		Env:        spec.Env,
		WorkingDir: domain.NewInternedString(spec.WorkingDir),
		Timeout:    spec.Timeout,
		Retries:    spec.Retries,
	}
}

func intern(strs []string) []domain.InternedString {
	if len(strs) == 0 {
		return nil
	}
	res := make([]domain.InternedString, len(strs))
	for i, s := range strs {
		res[i] = domain.NewInternedString(s)
	}
	return res
}
