package plan

// Planfile represents the structure of the loom.yaml plan file.
type Planfile struct {
	Version string                `yaml:"version"`
	Root    string                `yaml:"root"`
	Vars    map[string]string     `yaml:"vars"`
	Cache   CacheDTO              `yaml:"cache"`
	Targets map[string]*TargetDTO `yaml:"targets"`
}

// CacheDTO selects the fingerprint cache backend.
type CacheDTO struct {
	Backend string `yaml:"backend"`
}

// TargetDTO represents a single target definition in the plan file.
type TargetDTO struct {
	Run        []string          `yaml:"run"`
	Inputs     []string          `yaml:"inputs"`
	Outputs    []string          `yaml:"outputs"`
	DependsOn  []string          `yaml:"dependsOn"`
	Env        map[string]string `yaml:"env"`
	WorkingDir string            `yaml:"workingDir"`
	Timeout    string            `yaml:"timeout"`
	Retries    int               `yaml:"retries"`
}
