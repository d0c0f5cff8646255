package ports

import "github.com/loomworks/loom/internal/core/domain"

// FingerprintStore persists fingerprint cache entries keyed by target name.
//
// Implementations must support concurrent reads during a run and must make
// Put atomic: a new entry fully replaces the old one, or the old one remains
// readable. A crash mid-write must never leave a readable corrupt entry.
// Writes for the same target are serialized by the scheduler (single-writer
// per target), so implementations only need whole-store consistency.
//
//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks
type FingerprintStore interface {
	// Get retrieves the entry for a target name.
	// Returns nil, nil if not found.
	Get(root, targetName string) (*domain.Entry, error)

	// Put stores the entry, replacing any previous entry for the target.
	Put(root string, entry domain.Entry) error

	// Close releases any resources held by the store.
	Close() error
}
