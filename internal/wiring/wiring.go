// Package wiring registers all Graft nodes for the application.
package wiring

import (
	// Register adapter nodes.
	_ "github.com/loomworks/loom/internal/adapters/cache/blob"
	_ "github.com/loomworks/loom/internal/adapters/fs"
	_ "github.com/loomworks/loom/internal/adapters/logger"
	_ "github.com/loomworks/loom/internal/adapters/plan"
	_ "github.com/loomworks/loom/internal/adapters/shell"
	_ "github.com/loomworks/loom/internal/adapters/watcher"
	// Register app and engine nodes.
	_ "github.com/loomworks/loom/internal/app"
	_ "github.com/loomworks/loom/internal/engine/analyze"
)
