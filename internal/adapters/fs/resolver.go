package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.InputResolver = (*Resolver)(nil)

// Resolver implements ports.InputResolver using doublestar glob patterns,
// so declared inputs may use `**` to match whole subtrees.
type Resolver struct {
	walker *Walker
}

// NewResolver creates a new Resolver.
func NewResolver(walker *Walker) *Resolver {
	return &Resolver{walker: walker}
}

// ResolveInputs resolves the given input patterns relative to root.
// Matched directories are expanded to the files they contain. A pattern with
// no matches is a missing declared input, not an empty set.
func (r *Resolver) ResolveInputs(inputs []string, root string) ([]string, error) {
	uniquePaths := make(map[string]bool)

	for _, input := range inputs {
		matches, err := doublestar.Glob(os.DirFS(root), filepath.ToSlash(input))
		if err != nil {
			return nil, zerr.With(fmt.Errorf("%w: %w", domain.ErrInputResolutionFailed, err), "pattern", input)
		}
		if len(matches) == 0 {
			return nil, &domain.MissingInputError{Path: filepath.Join(root, input)}
		}

		for _, match := range matches {
			abs := filepath.Join(root, filepath.FromSlash(match))
			info, err := os.Stat(abs)
			if err != nil {
				return nil, zerr.With(fmt.Errorf("%w: %w", domain.ErrInputResolutionFailed, err), "path", abs)
			}
			if info.IsDir() {
				for file := range r.walker.WalkFiles(abs) {
					uniquePaths[file] = true
				}
				continue
			}
			uniquePaths[abs] = true
		}
	}

	result := make([]string, 0, len(uniquePaths))
	for path := range uniquePaths {
		result = append(result, path)
	}
	sort.Strings(result)

	return result, nil
}
