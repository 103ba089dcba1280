// Package workspace derives and scans the on-disk layout of a labeling
// workspace: the raw image set at the root, the segmentation artifact
// folders, the blob artifact folders, and the label database file.
//
// A workspace is a plain directory. The derived subfolders follow a
// fixed naming convention:
//
//	<root>/segmented_images
//	<root>/segmented_images/masks
//	<root>/blob_images
//	<root>/blob_images/keypoints
//	<root>/labels.db
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Canonical names of the derived folders and the database file.
const (
	SegmentedDirName = "segmented_images"
	MaskDirName      = "masks"
	BlobDirName      = "blob_images"
	KeypointsDirName = "keypoints"
	DatabaseFileName = "labels.db"
)

// DeriveSegmentationPaths returns the segmentation image folder and its
// mask subfolder for a workspace root, creating both if they do not
// exist yet. Calling it on an already-derived workspace is a no-op.
func DeriveSegmentationPaths(root string) (imageDir, maskDir string, err error) {
	return derivePair(root, SegmentedDirName, MaskDirName)
}

// DeriveBlobPaths returns the blob image folder and its keypoints
// subfolder for a workspace root, creating both if absent.
func DeriveBlobPaths(root string) (imageDir, keypointsDir string, err error) {
	return derivePair(root, BlobDirName, KeypointsDirName)
}

func derivePair(root, outer, inner string) (string, string, error) {
	outerDir := filepath.Join(root, outer)
	innerDir := filepath.Join(outerDir, inner)

	if dirExists(outerDir) && dirExists(innerDir) {
		return outerDir, innerDir, nil
	}
	// MkdirAll on the inner folder creates both levels and tolerates
	// a partially-derived layout.
	if err := os.MkdirAll(innerDir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create %s: %w", innerDir, err)
	}
	return outerDir, innerDir, nil
}

// DatabasePath returns the label database path for a workspace root.
// Pure path computation, no I/O.
func DatabasePath(root string) string {
	return filepath.Join(root, DatabaseFileName)
}

func dirExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}
