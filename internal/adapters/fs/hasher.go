package fs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.Hasher = (*Hasher)(nil)

// Hasher computes fingerprints and content hashes using xxhash.
type Hasher struct{}

// NewHasher creates a new Hasher.
func NewHasher() *Hasher {
	return &Hasher{}
}

// FileHash computes the xxhash of a file's content.
func (h *Hasher) FileHash(path string) (uint64, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from resolved plan inputs
	if err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to open file"), "path", path)
	}
	defer f.Close() //nolint:errcheck // best effort close in defer

	digest := xxhash.New()
	if _, err := io.Copy(digest, f); err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to hash file content"), "path", path)
	}

	return digest.Sum64(), nil
}

// Fingerprint computes the composite fingerprint of a target.
//
// The digest covers the normalized build expression, the target's declared
// shape, its environment, the sorted upstream fingerprints and the content
// of every resolved input file. Sorting the upstream fingerprints makes the
// result independent of dependency declaration order.
func (h *Hasher) Fingerprint(target *domain.Target, upstream []string, resolvedInputs []string) (string, error) {
	digest := xxhash.New()

	hashExpression(target, digest)
	hashEnvironment(target.Env, digest)
	hashUpstream(upstream, digest)

	if err := h.hashInputFiles(target.Name.String(), resolvedInputs, digest); err != nil {
		return "", err
	}

	return fmt.Sprintf("%016x", digest.Sum64()), nil
}

// hashExpression hashes the argv and the declared input/output/dependency sets.
func hashExpression(target *domain.Target, digest *xxhash.Digest) {
	for _, token := range target.Run {
		_, _ = digest.WriteString(token)
		_, _ = digest.Write([]byte{0})
	}
	_, _ = digest.Write([]byte{0})

	for _, section := range [][]domain.InternedString{target.Inputs, target.Outputs, target.Deps} {
		for _, s := range section {
			_, _ = digest.WriteString(s.String())
			_, _ = digest.Write([]byte{0})
		}
		_, _ = digest.Write([]byte{0})
	}

	_, _ = digest.WriteString(target.WorkingDir.String())
	_, _ = digest.Write([]byte{0})
}

// hashEnvironment hashes environment variables in a deterministic order.
func hashEnvironment(env map[string]string, digest *xxhash.Digest) {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		_, _ = digest.WriteString(k)
		_, _ = digest.Write([]byte{'='})
		_, _ = digest.WriteString(env[k])
		_, _ = digest.Write([]byte{0})
	}
	_, _ = digest.Write([]byte{0})
}

// hashUpstream hashes the upstream fingerprints sorted, so declaring the
// same dependency set in a different order yields the same fingerprint.
func hashUpstream(upstream []string, digest *xxhash.Digest) {
	sorted := slices.Clone(upstream)
	slices.Sort(sorted)
	for _, fp := range sorted {
		_, _ = digest.WriteString(fp)
		_, _ = digest.Write([]byte{0})
	}
	_, _ = digest.Write([]byte{0})
}

func (h *Hasher) hashInputFiles(targetName string, resolvedInputs []string, digest *xxhash.Digest) error {
	for _, path := range resolvedInputs {
		_, _ = digest.WriteString(path)
		_, _ = digest.Write([]byte{0})

		if _, err := os.Stat(path); errors.Is(err, iofs.ErrNotExist) {
			// A declared input vanished between resolution and hashing, or
			// was passed in unresolved. Never silently treated as changed.
			return &domain.MissingInputError{Target: targetName, Path: path}
		}

		hash, err := h.FileHash(path)
		if err != nil {
			return err
		}
		if err := binary.Write(digest, binary.LittleEndian, hash); err != nil {
			return zerr.Wrap(err, "failed to write hash to digest")
		}
	}
	return nil
}

// OutputHash computes the combined hash of the declared output files.
func (h *Hasher) OutputHash(outputs []string, root string) (string, error) {
	sortedOutputs := slices.Clone(outputs)
	slices.Sort(sortedOutputs)

	digest := xxhash.New()

	for _, output := range sortedOutputs {
		path := filepath.Join(root, output)

		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return "", zerr.With(fmt.Errorf("%w", domain.ErrOutputMissing), "path", path)
			}
			return "", zerr.With(zerr.Wrap(err, "failed to stat output file"), "path", path)
		}

		hash, err := h.FileHash(path)
		if err != nil {
			return "", err
		}
		if err := binary.Write(digest, binary.LittleEndian, hash); err != nil {
			return "", zerr.Wrap(err, "failed to write hash to digest")
		}
	}

	return fmt.Sprintf("%016x", digest.Sum64()), nil
}
