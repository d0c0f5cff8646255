package app

import (
	"context"

	"github.com/grindlemire/graft"
	"github.com/loomworks/loom/internal/adapters/cache/blob"
	"github.com/loomworks/loom/internal/adapters/fs"
	"github.com/loomworks/loom/internal/adapters/logger"
	"github.com/loomworks/loom/internal/adapters/plan"
	"github.com/loomworks/loom/internal/adapters/shell"
	wadapter "github.com/loomworks/loom/internal/adapters/watcher"
	"github.com/loomworks/loom/internal/core/ports"
	"github.com/loomworks/loom/internal/engine/analyze"
)

const (
	// AppNodeID is the unique identifier for the main App Graft node.
	AppNodeID graft.ID = "app.main"
	// ComponentsNodeID is the unique identifier for the App components Graft node.
	ComponentsNodeID graft.ID = "app.components"
)

// Components contains all the initialized application components.
// This struct provides controlled access to components needed by the CLI layer.
type Components struct {
	App    *App
	Logger ports.Logger
}

func init() {
	// App Node
	graft.Register(graft.Node[*App]{
		ID:        AppNodeID,
		Cacheable: true,
		DependsOn: []graft.ID{
			plan.NodeID,
			analyze.NodeID,
			shell.NodeID,
			fs.HasherNodeID,
			fs.ResolverNodeID,
			blob.NodeID,
			wadapter.WatcherNodeID,
			wadapter.HashCacheNodeID,
			logger.NodeID,
		},
		Run: runAppNode,
	})

	// Components Node
	graft.Register(graft.Node[*Components]{
		ID:        ComponentsNodeID,
		Cacheable: true,
		DependsOn: []graft.ID{
			AppNodeID,
			logger.NodeID,
		},
		Run: func(ctx context.Context) (*Components, error) {
			a, err := graft.Dep[*App](ctx)
			if err != nil {
				return nil, err
			}
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			return &Components{App: a, Logger: log}, nil
		},
	})
}

func runAppNode(ctx context.Context) (*App, error) {
	loader, err := graft.Dep[ports.PlanLoader](ctx)
	if err != nil {
		return nil, err
	}
	analyzer, err := graft.Dep[*analyze.Analyzer](ctx)
	if err != nil {
		return nil, err
	}
	executor, err := graft.Dep[ports.Executor](ctx)
	if err != nil {
		return nil, err
	}
	hasher, err := graft.Dep[ports.Hasher](ctx)
	if err != nil {
		return nil, err
	}
	resolver, err := graft.Dep[ports.InputResolver](ctx)
	if err != nil {
		return nil, err
	}
	blobs, err := graft.Dep[ports.BlobStore](ctx)
	if err != nil {
		return nil, err
	}
	watch, err := graft.Dep[ports.Watcher](ctx)
	if err != nil {
		return nil, err
	}
	hashCache, err := graft.Dep[*wadapter.HashCache](ctx)
	if err != nil {
		return nil, err
	}
	log, err := graft.Dep[ports.Logger](ctx)
	if err != nil {
		return nil, err
	}

	return New(loader, analyzer, executor, hasher, resolver, blobs, watch, hashCache, log), nil
}
