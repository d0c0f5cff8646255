package analyze

import (
	"context"

	"github.com/grindlemire/graft"
)

// NodeID is the unique identifier for the analyzer Graft node.
const NodeID graft.ID = "engine.analyzer"

func init() {
	graft.Register(graft.Node[*Analyzer]{
		ID:        NodeID,
		Cacheable: true,
		Run: func(_ context.Context) (*Analyzer, error) {
			return NewAnalyzer(), nil
		},
	})
}
