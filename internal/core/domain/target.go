package domain

import "time"

// TargetAll is the reserved pseudo-target name selecting the whole graph.
// No real target may use it.
const TargetAll = "all"

// Target is a named unit of computation tracked by the engine.
// A Target is immutable for the duration of one run: the plan loader copies
// it into the graph and nothing mutates it afterwards.
type Target struct {
	Name InternedString

	// Run is the build expression as an argv vector. Tokens may contain
	// ${name} placeholders referring to plan vars or upstream targets;
	// placeholder resolution happens when the work order is assembled.
	Run []string

	Inputs  []InternedString
	Outputs []InternedString

	// Deps is the union of the declared dependency list and the target
	// references extracted from Run by the analyzer.
	Deps []InternedString

	Env        map[string]string
	WorkingDir InternedString

	// Timeout bounds a single build attempt. Zero means no limit.
	Timeout time.Duration

	// Retries is the number of additional attempts allowed for retryable
	// dispatch failures.
	Retries int
}

// PrimaryOutput returns the first declared output, the value a ${name}
// placeholder expands to. Empty if the target declares no outputs.
func (t *Target) PrimaryOutput() string {
	if len(t.Outputs) == 0 {
		return ""
	}
	return t.Outputs[0].String()
}
