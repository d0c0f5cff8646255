// Package staleness decides whether a target's cache entry still covers it.
// The scheduler consults it before dispatch and the outdated reporter uses
// it read-only.
package staleness

import (
	"fmt"

	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
)

// Checker computes current fingerprints and compares them against the
// fingerprint store.
type Checker struct {
	store    ports.FingerprintStore
	blobs    ports.BlobStore
	hasher   ports.Hasher
	resolver ports.InputResolver
}

// NewChecker creates a new Checker. blobs may be nil, in which case missing
// outputs are never restored and always count as stale.
func NewChecker(
	store ports.FingerprintStore,
	blobs ports.BlobStore,
	hasher ports.Hasher,
	resolver ports.InputResolver,
) *Checker {
	return &Checker{
		store:    store,
		blobs:    blobs,
		hasher:   hasher,
		resolver: resolver,
	}
}

// Fingerprint computes the target's current composite fingerprint from its
// build expression, the already-computed upstream fingerprints, and the
// content of its resolved inputs.
func (c *Checker) Fingerprint(target *domain.Target, root string, upstream []string) (string, error) {
	inputs := make([]string, len(target.Inputs))
	for i, input := range target.Inputs {
		inputs[i] = input.String()
	}

	resolved, err := c.resolver.ResolveInputs(inputs, root)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInputResolutionFailed, err)
	}

	fp, err := c.hasher.Fingerprint(target, upstream, resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrFingerprintFailed, err)
	}

	return fp, nil
}

// Evaluate reports whether the target must be rebuilt given its current
// fingerprint. When restore is true and the entry matches but declared
// outputs are missing or changed, the checker attempts to restore them from
// the blob store before declaring the target stale.
func (c *Checker) Evaluate(target *domain.Target, root, fingerprint string, restore bool) (bool, error) {
	entry, err := c.store.Get(root, target.Name.String())
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrStoreReadFailed, err)
	}

	if entry == nil || entry.Fingerprint != fingerprint {
		return true, nil
	}

	// Targets with no declared outputs are decided by the fingerprint alone.
	if len(target.Outputs) == 0 {
		return false, nil
	}

	if c.outputsMatch(target, entry, root) {
		return false, nil
	}

	if !restore || c.blobs == nil {
		return true, nil
	}

	// Fingerprint matches but outputs drifted. Try to materialize them from
	// the blob store instead of rebuilding.
	for _, ref := range entry.Outputs {
		if err := c.blobs.Restore(root, ref); err != nil {
			return true, nil //nolint:nilerr // restore failure means rebuild, not abort
		}
	}

	return !c.outputsMatch(target, entry, root), nil
}

// outputsMatch checks whether the on-disk outputs still hash to the entry's
// recorded output hash.
func (c *Checker) outputsMatch(target *domain.Target, entry *domain.Entry, root string) bool {
	outputs := make([]string, len(target.Outputs))
	for i, out := range target.Outputs {
		outputs[i] = out.String()
	}

	outputHash, err := c.hasher.OutputHash(outputs, root)
	if err != nil {
		// Missing or unreadable output counts as a mismatch.
		return false
	}

	return entry.OutputHash == outputHash
}
