package workspace

import (
	"path/filepath"
	"strings"
)

// ArtifactKind selects which derived artifact name to compute for a
// raw image.
type ArtifactKind int

const (
	// SegmentedImage is the colorized segmentation preview PNG.
	SegmentedImage ArtifactKind = iota
	// SegmentationMask is the 2-D integer label array (.npy).
	SegmentationMask
	// BlobImage is the keypoint-annotated PNG.
	BlobImage
	// BlobKeypoints is the keypoints JSON array.
	BlobKeypoints
)

// DerivedName computes the artifact file name for a raw image name.
// The name convention is the only linkage between the raw set and the
// derived sets; there is no foreign key. Renaming a raw file orphans
// its artifacts.
func DerivedName(rawName string, kind ArtifactKind) string {
	base := strings.TrimSuffix(filepath.Base(rawName), filepath.Ext(rawName))
	switch kind {
	case SegmentedImage:
		return base + "_segmented.png"
	case SegmentationMask:
		return base + "_mask.npy"
	case BlobImage:
		return base + "_blobs.png"
	case BlobKeypoints:
		return base + "_keypoints.json"
	}
	return base
}
