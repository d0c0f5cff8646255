package blob

import (
	"context"

	"github.com/grindlemire/graft"
	"github.com/loomworks/loom/internal/core/ports"
)

// NodeID is the unique identifier for the blob store Graft node.
const NodeID graft.ID = "adapter.blob_store"

func init() {
	graft.Register(graft.Node[ports.BlobStore]{
		ID:        NodeID,
		Cacheable: true,
		Run: func(_ context.Context) (ports.BlobStore, error) {
			return NewStore(), nil
		},
	})
}
