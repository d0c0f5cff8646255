// Package fscache implements the fingerprint store on the local file system.
package fscache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
)

var _ ports.FingerprintStore = (*Store)(nil)

// Store implements ports.FingerprintStore using one JSON file per target.
//
// Writes go to a temp file in the store directory which is then renamed over
// the entry, so readers either see the previous entry or the complete new
// one, never a partial write, even across a crash.
type Store struct{}

// NewStore creates a new file-system backed fingerprint store.
func NewStore() *Store {
	return &Store{}
}

// Get retrieves the entry for a target name. Returns nil, nil if not found.
func (s *Store) Get(root, targetName string) (*domain.Entry, error) {
	filename := entryFilename(root, targetName)
	//nolint:gosec // path is built from the store directory and a hashed filename
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreReadFailed, err)
	}

	var entry domain.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnmarshalFailed, err)
	}

	return &entry, nil
}

// Put stores the entry, atomically replacing any previous one.
func (s *Store) Put(root string, entry domain.Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreMarshalFailed, err)
	}

	filename := entryFilename(root, entry.TargetName)
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, domain.DirPerm); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreCreateFailed, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(filename)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreWriteFailed, err)
	}
	tmpName := tmp.Name()

	if err := writeAndSync(tmp, data); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %w", domain.ErrStoreWriteFailed, err)
	}

	if err := os.Rename(tmpName, filename); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %w", domain.ErrStoreWriteFailed, err)
	}

	return nil
}

// Close is a no-op for the file-system store.
func (s *Store) Close() error { return nil }

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(domain.FilePerm); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func entryFilename(root, targetName string) string {
	hash := sha256.Sum256([]byte(targetName))
	hexHash := hex.EncodeToString(hash[:])
	return filepath.Join(domain.StorePath(root), hexHash+".json")
}
