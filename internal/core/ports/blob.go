package ports

import "github.com/loomworks/loom/internal/core/domain"

// BlobStore is the content-addressable store for built output files.
// Blobs are keyed by content digest; storing the same content twice is a
// no-op, and restore verifies the digest before declaring success.
//
//go:generate go run go.uber.org/mock/mockgen -source=blob.go -destination=mocks/mock_blob.go -package=mocks
type BlobStore interface {
	// Store copies the file at path (relative to root) into the blob store
	// and returns its reference.
	Store(root, path string) (*domain.OutputRef, error)

	// Restore materializes the referenced blob back at ref.Path under root.
	Restore(root string, ref domain.OutputRef) error
}
