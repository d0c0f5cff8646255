package domain

import "time"

// Cache backends selectable in the plan file.
const (
	CacheBackendFS     = "fs"
	CacheBackendSQLite = "sqlite"
)

// CacheConfig selects and configures the fingerprint cache backend.
type CacheConfig struct {
	Backend string
}

// TargetSpec is a raw target definition as loaded from the plan file,
// before dependency analysis.
type TargetSpec struct {
	Name       string
	Run        []string
	Inputs     []string
	Outputs    []string
	Deps       []string
	Env        map[string]string
	WorkingDir string
	Timeout    time.Duration
	Retries    int
}

// Plan is the full declarative set of target specs defining a workflow.
// The analyzer turns a Plan into a validated Graph.
type Plan struct {
	Root    string
	Vars    map[string]string
	Cache   CacheConfig
	Targets []TargetSpec
}

// Spec returns the spec with the given name.
func (p *Plan) Spec(name string) (TargetSpec, bool) {
	for _, spec := range p.Targets {
		if spec.Name == name {
			return spec, true
		}
	}
	return TargetSpec{}, false
}
