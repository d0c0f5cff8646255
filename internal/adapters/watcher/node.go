package watcher

import (
	"context"
	"time"

	"github.com/grindlemire/graft"
	"github.com/loomworks/loom/internal/adapters/fs"
	"github.com/loomworks/loom/internal/core/ports"
)

const (
	// WatcherNodeID is the unique identifier for the file watcher Graft node.
	WatcherNodeID graft.ID = "adapter.watcher"
	// HashCacheNodeID is the unique identifier for the fingerprint memo Graft node.
	HashCacheNodeID graft.ID = "adapter.hash_cache"
)

func init() {
	// Watcher Node
	graft.Register(graft.Node[ports.Watcher]{
		ID:        WatcherNodeID,
		Cacheable: true,
		Run: func(_ context.Context) (ports.Watcher, error) {
			return NewWatcher()
		},
	})

	// HashCache Node
	graft.Register(graft.Node[*HashCache]{
		ID:        HashCacheNodeID,
		Cacheable: true,
		DependsOn: []graft.ID{fs.HasherNodeID, fs.ResolverNodeID},
		Run: func(ctx context.Context) (*HashCache, error) {
			hasher, err := graft.Dep[ports.Hasher](ctx)
			if err != nil {
				return nil, err
			}
			resolver, err := graft.Dep[ports.InputResolver](ctx)
			if err != nil {
				return nil, err
			}
			return NewHashCache(hasher, resolver)
		},
	})
}

// DefaultDebounceWindow is the default time window for debouncing file events.
const DefaultDebounceWindow = 50 * time.Millisecond
