package watcher

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
)

// DefaultCacheSize bounds the number of memoized fingerprints.
const DefaultCacheSize = 1024

// HashCache memoizes target fingerprints between watch-mode rebuilds and maps
// changed file paths back to the targets whose inputs cover them. It lets the
// watch loop skip a rebuild entirely when a change touches nothing any target
// reads.
type HashCache struct {
	mu        sync.RWMutex
	entries   *lru.Cache[string, string]
	pathIndex map[string][]string // resolved input path -> cache keys
	hasher    ports.Hasher
	resolver  ports.InputResolver
}

// NewHashCache creates a new hash cache.
func NewHashCache(hasher ports.Hasher, resolver ports.InputResolver) (*HashCache, error) {
	entries, err := lru.NewWithEvict[string, string](DefaultCacheSize, nil)
	if err != nil {
		return nil, err
	}
	return &HashCache{
		entries:   entries,
		pathIndex: make(map[string][]string),
		hasher:    hasher,
		resolver:  resolver,
	}, nil
}

// Get returns the memoized fingerprint for the target, if present.
func (h *HashCache) Get(targetName, root string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.entries.Get(cacheKey(targetName, root))
}

// Compute resolves the target's inputs, computes its fingerprint, and
// memoizes the result indexed by every resolved input path.
func (h *HashCache) Compute(target domain.Target, root string, upstream []string) (string, error) {
	inputs := make([]string, len(target.Inputs))
	for i, input := range target.Inputs {
		inputs[i] = input.String()
	}

	resolved, err := h.resolver.ResolveInputs(inputs, root)
	if err != nil {
		return "", err
	}

	fp, err := h.hasher.Fingerprint(&target, upstream, resolved)
	if err != nil {
		return "", err
	}

	key := cacheKey(target.Name.String(), root)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromIndex(key)
	h.entries.Add(key, fp)
	for _, path := range resolved {
		h.pathIndex[path] = append(h.pathIndex[path], key)
	}

	return fp, nil
}

// Invalidate drops memoized fingerprints for targets whose inputs cover any
// of the changed paths. It reports whether any tracked target was affected.
func (h *HashCache) Invalidate(paths []string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	affected := false
	for _, path := range paths {
		keys, ok := h.pathIndex[path]
		if !ok {
			continue
		}
		affected = true
		for _, key := range keys {
			h.entries.Remove(key)
		}
		delete(h.pathIndex, path)
	}
	return affected
}

// Tracks reports whether the given path belongs to any memoized target's
// resolved inputs.
func (h *HashCache) Tracks(path string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.pathIndex[path]
	return ok
}

// removeFromIndex drops all index entries pointing at the given cache key.
// Must be called with mu held.
func (h *HashCache) removeFromIndex(key string) {
	for path, keys := range h.pathIndex {
		for i, k := range keys {
			if k == key {
				h.pathIndex[path] = append(keys[:i], keys[i+1:]...)
				if len(h.pathIndex[path]) == 0 {
					delete(h.pathIndex, path)
				}
				break
			}
		}
	}
}

func cacheKey(targetName, root string) string {
	return targetName + "|" + root
}
