package blob_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/adapters/cache/blob"
	"github.com/loomworks/loom/internal/core/domain"
)

func writeOutput(t *testing.T, root, path, content string) {
	t.Helper()
	abs := filepath.Join(root, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), domain.DirPerm))
	require.NoError(t, os.WriteFile(abs, []byte(content), domain.FilePerm))
}

func TestStore_StoreRestore(t *testing.T) {
	root := t.TempDir()
	store := blob.NewStore()

	writeOutput(t, root, "bin/app", "binary content")

	ref, err := store.Store(root, "bin/app")
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, "bin/app", ref.Path)
	assert.NotEmpty(t, ref.Digest)
	assert.Equal(t, int64(len("binary content")), ref.Size)

	// Delete the output and restore it from the blob store.
	require.NoError(t, os.Remove(filepath.Join(root, "bin/app")))
	require.NoError(t, store.Restore(root, *ref))

	restored, err := os.ReadFile(filepath.Join(root, "bin", "app"))
	require.NoError(t, err)
	assert.Equal(t, "binary content", string(restored))
}

func TestStore_Store_Deduplicates(t *testing.T) {
	root := t.TempDir()
	store := blob.NewStore()

	writeOutput(t, root, "a.out", "same bytes")
	writeOutput(t, root, "b.out", "same bytes")

	refA, err := store.Store(root, "a.out")
	require.NoError(t, err)
	refB, err := store.Store(root, "b.out")
	require.NoError(t, err)

	assert.Equal(t, refA.Digest, refB.Digest)

	// Identical content is stored once.
	bucket := filepath.Join(domain.BlobsPath(root), refA.Digest[:2])
	entries, err := os.ReadDir(bucket)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_Store_MissingOutput(t *testing.T) {
	store := blob.NewStore()

	_, err := store.Store(t.TempDir(), "bin/never-built")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOutputMissing)
}

func TestStore_Restore_UnknownDigest(t *testing.T) {
	store := blob.NewStore()

	err := store.Restore(t.TempDir(), domain.OutputRef{
		Path:   "bin/app",
		Digest: "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBlobNotFound)
}

func TestStore_Restore_EmptyDigest(t *testing.T) {
	store := blob.NewStore()

	err := store.Restore(t.TempDir(), domain.OutputRef{Path: "bin/app"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBlobNotFound)
}

func TestStore_Restore_CorruptBlob(t *testing.T) {
	root := t.TempDir()
	store := blob.NewStore()

	writeOutput(t, root, "bin/app", "original")
	ref, err := store.Store(root, "bin/app")
	require.NoError(t, err)

	// Swap the stored blob for a valid blob of different content. The
	// digest check must reject it and leave no file behind.
	writeOutput(t, root, "other", "tampered")
	other, err := store.Store(root, "other")
	require.NoError(t, err)

	blobPath := filepath.Join(domain.BlobsPath(root), ref.Digest[:2], ref.Digest+".zst")
	otherPath := filepath.Join(domain.BlobsPath(root), other.Digest[:2], other.Digest+".zst")
	tampered, err := os.ReadFile(otherPath) //nolint:gosec // test fixture
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(blobPath, tampered, domain.FilePerm))

	require.NoError(t, os.Remove(filepath.Join(root, "bin/app")))

	err = store.Restore(root, *ref)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBlobCorrupt)

	_, statErr := os.Stat(filepath.Join(root, "bin/app"))
	assert.True(t, os.IsNotExist(statErr), "corrupt restore must not materialize an output")
}

func TestStore_Store_PreservesExistingBlob(t *testing.T) {
	root := t.TempDir()
	store := blob.NewStore()

	writeOutput(t, root, "a.out", "content")
	ref, err := store.Store(root, "a.out")
	require.NoError(t, err)

	blobPath := filepath.Join(domain.BlobsPath(root), ref.Digest[:2], ref.Digest+".zst")
	before, err := os.Stat(blobPath)
	require.NoError(t, err)

	// Storing the same content again leaves the blob untouched.
	_, err = store.Store(root, "a.out")
	require.NoError(t, err)

	after, err := os.Stat(blobPath)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}
