// Package plan provides the loom.yaml plan loader.
package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

var _ ports.PlanLoader = (*Loader)(nil)

var validTargetNameRegex = regexp.MustCompile("^[a-zA-Z0-9_-]+$")

// Loader implements ports.PlanLoader using a YAML plan file.
type Loader struct {
	logger ports.Logger
}

// NewLoader creates a new Loader.
func NewLoader(logger ports.Logger) *Loader {
	return &Loader{logger: logger}
}

// Load locates loom.yaml by walking up from cwd and returns the parsed plan.
func (l *Loader) Load(cwd string) (*domain.Plan, error) {
	planPath, err := findPlanFile(cwd)
	if err != nil {
		return nil, err
	}
	return l.loadFile(planPath)
}

func findPlanFile(cwd string) (string, error) {
	currentDir := cwd
	for {
		candidate := filepath.Join(currentDir, domain.PlanFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			break
		}
		currentDir = parentDir
	}
	return "", zerr.With(fmt.Errorf("%w", domain.ErrPlanNotFound), "cwd", cwd)
}

func (l *Loader) loadFile(planPath string) (*domain.Plan, error) {
	data, err := os.ReadFile(planPath) //nolint:gosec // path is discovered from the user's working directory
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPlanReadFailed, err)
	}

	var planfile Planfile
	if err := yaml.Unmarshal(data, &planfile); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPlanParseFailed, err)
	}

	if planfile.Version != "" && planfile.Version != "1" {
		l.logger.Warn("unsupported plan version " + planfile.Version + ", proceeding as version 1")
	}

	cache, err := resolveCacheConfig(planfile.Cache)
	if err != nil {
		return nil, err
	}

	p := &domain.Plan{
		Root:  resolveRoot(planPath, planfile.Root),
		Vars:  planfile.Vars,
		Cache: cache,
	}

	// Build specs in lexical name order so downstream analysis and
	// reporting are deterministic regardless of YAML map iteration.
	names := make([]string, 0, len(planfile.Targets))
	for name := range planfile.Targets {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		dto := planfile.Targets[name]
		spec, err := buildSpec(name, dto)
		if err != nil {
			return nil, err
		}
		p.Targets = append(p.Targets, spec)
	}

	return p, nil
}

func buildSpec(name string, dto *TargetDTO) (domain.TargetSpec, error) {
	if err := validateTargetName(name); err != nil {
		return domain.TargetSpec{}, err
	}

	var timeout time.Duration
	if dto.Timeout != "" {
		var err error
		timeout, err = time.ParseDuration(dto.Timeout)
		if err != nil {
			return domain.TargetSpec{}, zerr.With(
				fmt.Errorf("%w: %w", domain.ErrPlanParseFailed, err),
				"target", name,
			)
		}
	}

	return domain.TargetSpec{
		Name:       name,
		Run:        dto.Run,
		Inputs:     canonicalize(dto.Inputs),
		Outputs:    canonicalize(dto.Outputs),
		Deps:       canonicalize(dto.DependsOn),
		Env:        dto.Env,
		WorkingDir: dto.WorkingDir,
		Timeout:    timeout,
		Retries:    dto.Retries,
	}, nil
}

func validateTargetName(name string) error {
	if name == domain.TargetAll {
		return zerr.With(fmt.Errorf("%w", domain.ErrReservedTargetName), "target", name)
	}
	if !validTargetNameRegex.MatchString(name) {
		return zerr.With(fmt.Errorf("%w", domain.ErrInvalidTargetName), "target", name)
	}
	return nil
}

func resolveCacheConfig(dto CacheDTO) (domain.CacheConfig, error) {
	backend := strings.TrimSpace(dto.Backend)
	switch backend {
	case "":
		backend = domain.CacheBackendFS
	case domain.CacheBackendFS, domain.CacheBackendSQLite:
	default:
		return domain.CacheConfig{}, zerr.With(fmt.Errorf("%w", domain.ErrInvalidCacheBackend), "backend", backend)
	}
	return domain.CacheConfig{Backend: backend}, nil
}

// resolveRoot resolves the project root relative to the plan file location.
func resolveRoot(planPath, declaredRoot string) string {
	base := filepath.Dir(planPath)
	if declaredRoot == "" {
		return base
	}
	if filepath.IsAbs(declaredRoot) {
		return declaredRoot
	}
	return filepath.Join(base, declaredRoot)
}

// canonicalize sorts and deduplicates declared path and name lists so that
// declaration order never affects fingerprints.
func canonicalize(strs []string) []string {
	if len(strs) == 0 {
		return nil
	}
	sorted := make([]string, len(strs))
	copy(sorted, strs)
	slices.Sort(sorted)
	return slices.Compact(sorted)
}
