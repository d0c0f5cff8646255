package domain

import "time"

// WorkOrder is the fully resolved description of one build handed to a
// worker backend. All ${name} placeholders in Argv have been expanded;
// the backend needs no access to the plan or the graph.
type WorkOrder struct {
	Target     InternedString
	Argv       []string
	Env        map[string]string
	WorkingDir string
	Timeout    time.Duration
}

// BuildResult reports a completed build attempt.
type BuildResult struct {
	Target   InternedString
	Duration time.Duration
}
