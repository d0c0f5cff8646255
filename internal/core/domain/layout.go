package domain

import "path/filepath"

const (
	// LoomDirName is the name of the internal workspace directory.
	LoomDirName = ".loom"

	// StoreDirName is the name of the fingerprint store directory.
	StoreDirName = "store"

	// BlobsDirName is the name of the output blob store directory.
	BlobsDirName = "blobs"

	// DBFileName is the name of the sqlite cache database.
	DBFileName = "loom.db"

	// PlanFileName is the name of the plan file.
	PlanFileName = "loom.yaml"

	// DirPerm is the default permission for directories (rwxr-x---).
	DirPerm = 0o750

	// FilePerm is the default permission for files (rw-r--r--).
	FilePerm = 0o644
)

// StorePath returns the fingerprint store directory under root.
func StorePath(root string) string {
	return filepath.Join(root, LoomDirName, StoreDirName)
}

// BlobsPath returns the blob store directory under root.
func BlobsPath(root string) string {
	return filepath.Join(root, LoomDirName, StoreDirName, BlobsDirName)
}

// DBPath returns the sqlite cache database path under root.
func DBPath(root string) string {
	return filepath.Join(root, LoomDirName, StoreDirName, DBFileName)
}
