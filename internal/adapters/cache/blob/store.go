// Package blob implements the content-addressable store for built outputs.
package blob

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
	"go.trai.ch/zerr"
	"lukechampine.com/blake3"
)

var _ ports.BlobStore = (*Store)(nil)

// Store keeps zstd-compressed copies of output files keyed by the blake3
// digest of their uncompressed content, under .loom/store/blobs/<aa>/<digest>.
// A blob shared by several targets is stored once.
type Store struct{}

// NewStore creates a new blob store.
func NewStore() *Store {
	return &Store{}
}

// Store copies the file at path (relative to root) into the blob store.
func (s *Store) Store(root, path string) (*domain.OutputRef, error) {
	abs := filepath.Join(root, path)

	src, err := os.Open(abs) //nolint:gosec // path is a declared target output
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, zerr.With(fmt.Errorf("%w", domain.ErrOutputMissing), "path", abs)
		}
		return nil, zerr.Wrap(err, "failed to open output file")
	}
	defer src.Close() //nolint:errcheck // best effort close in defer

	info, err := src.Stat()
	if err != nil {
		return nil, zerr.Wrap(err, "failed to stat output file")
	}

	digest, err := hashFile(src)
	if err != nil {
		return nil, err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, zerr.Wrap(err, "failed to rewind output file")
	}

	ref := &domain.OutputRef{Path: path, Digest: digest, Size: info.Size()}

	blobPath := s.blobPath(root, digest)
	if _, err := os.Stat(blobPath); err == nil {
		// Content already stored under this digest.
		return ref, nil
	}

	if err := s.writeBlob(blobPath, src); err != nil {
		return nil, err
	}
	return ref, nil
}

// Restore materializes the referenced blob back at ref.Path under root,
// verifying the content digest before declaring success.
func (s *Store) Restore(root string, ref domain.OutputRef) error {
	if len(ref.Digest) < 2 {
		return zerr.With(fmt.Errorf("%w", domain.ErrBlobNotFound), "digest", ref.Digest)
	}
	blobPath := s.blobPath(root, ref.Digest)

	compressed, err := os.Open(blobPath) //nolint:gosec // path is built from the blob directory and a digest
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return zerr.With(fmt.Errorf("%w", domain.ErrBlobNotFound), "digest", ref.Digest)
		}
		return zerr.Wrap(err, "failed to open blob")
	}
	defer compressed.Close() //nolint:errcheck // best effort close in defer

	decoder, err := zstd.NewReader(compressed)
	if err != nil {
		return zerr.Wrap(err, "failed to create zstd reader")
	}
	defer decoder.Close()

	dest := filepath.Join(root, ref.Path)
	if err := os.MkdirAll(filepath.Dir(dest), domain.DirPerm); err != nil {
		return zerr.Wrap(err, "failed to create output directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".tmp-*")
	if err != nil {
		return zerr.Wrap(err, "failed to create temp output file")
	}
	tmpName := tmp.Name()

	hasher := blake3.New(32, nil)
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), decoder); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return zerr.Wrap(err, "failed to decompress blob")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return zerr.Wrap(err, "failed to close temp output file")
	}

	if got := hex.EncodeToString(hasher.Sum(nil)); got != ref.Digest {
		_ = os.Remove(tmpName)
		return zerr.With(fmt.Errorf("%w", domain.ErrBlobCorrupt), "digest", ref.Digest)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return zerr.Wrap(err, "failed to move restored output into place")
	}
	return nil
}

func (s *Store) writeBlob(blobPath string, src io.Reader) error {
	dir := filepath.Dir(blobPath)
	if err := os.MkdirAll(dir, domain.DirPerm); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreCreateFailed, err)
	}

	tmp, err := os.CreateTemp(dir, "blob-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreWriteFailed, err)
	}
	tmpName := tmp.Name()

	encoder, err := zstd.NewWriter(tmp)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return zerr.Wrap(err, "failed to create zstd writer")
	}

	if _, err := io.Copy(encoder, src); err != nil {
		_ = encoder.Close()
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return zerr.Wrap(err, "failed to compress output file")
	}
	if err := encoder.Close(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return zerr.Wrap(err, "failed to flush zstd writer")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %w", domain.ErrStoreWriteFailed, err)
	}

	if err := os.Rename(tmpName, blobPath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %w", domain.ErrStoreWriteFailed, err)
	}
	return nil
}

func (s *Store) blobPath(root, digest string) string {
	return filepath.Join(domain.BlobsPath(root), digest[:2], digest+".zst")
}

func hashFile(r io.Reader) (string, error) {
	hasher := blake3.New(32, nil)
	if _, err := io.Copy(hasher, r); err != nil {
		return "", zerr.Wrap(err, "failed to hash output content")
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
