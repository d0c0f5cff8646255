package ports

import "github.com/loomworks/loom/internal/core/domain"

// Hasher computes fingerprints and content hashes.
//
// Fingerprint computation is deterministic and order-independent with
// respect to upstream ordering: permuting the upstream fingerprints must
// yield the same result.
//
//go:generate go run go.uber.org/mock/mockgen -source=hasher.go -destination=mocks/mock_hasher.go -package=mocks
type Hasher interface {
	// Fingerprint computes the composite fingerprint of a target from its
	// normalized build expression, the fingerprints of its upstream targets,
	// and the content of its resolved input files.
	// A missing input file yields a *domain.MissingInputError.
	Fingerprint(target *domain.Target, upstream []string, resolvedInputs []string) (string, error)

	// OutputHash computes the combined content hash of the declared output
	// files under root. A missing output yields an error wrapping
	// domain.ErrOutputMissing.
	OutputHash(outputs []string, root string) (string, error)

	// FileHash computes the content hash of a single file.
	FileHash(path string) (uint64, error)
}
