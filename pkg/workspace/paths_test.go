package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDeriveSegmentationPaths(t *testing.T) {
	root := t.TempDir()

	imageDir, maskDir, err := DeriveSegmentationPaths(root)
	if err != nil {
		t.Fatalf("DeriveSegmentationPaths failed: %v", err)
	}

	if imageDir != filepath.Join(root, "segmented_images") {
		t.Errorf("unexpected image dir %s", imageDir)
	}
	if maskDir != filepath.Join(root, "segmented_images", "masks") {
		t.Errorf("unexpected mask dir %s", maskDir)
	}

	for _, dir := range []string{imageDir, maskDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("expected %s to be a directory, err=%v", dir, err)
		}
	}
}

func TestDeriveSegmentationPathsIdempotent(t *testing.T) {
	root := t.TempDir()

	first, firstMask, err := DeriveSegmentationPaths(root)
	if err != nil {
		t.Fatalf("first derivation failed: %v", err)
	}

	// Drop a file into the derived folder; a second derivation must
	// not disturb it.
	marker := filepath.Join(first, "keep.png")
	if err := os.WriteFile(marker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	second, secondMask, err := DeriveSegmentationPaths(root)
	if err != nil {
		t.Fatalf("second derivation failed: %v", err)
	}
	if first != second || firstMask != secondMask {
		t.Errorf("derivation not stable: %s vs %s", first, second)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("existing file lost after re-derivation: %v", err)
	}
}

func TestDeriveBlobPaths(t *testing.T) {
	root := t.TempDir()

	imageDir, kpDir, err := DeriveBlobPaths(root)
	if err != nil {
		t.Fatalf("DeriveBlobPaths failed: %v", err)
	}
	if imageDir != filepath.Join(root, "blob_images") {
		t.Errorf("unexpected blob dir %s", imageDir)
	}
	if kpDir != filepath.Join(root, "blob_images", "keypoints") {
		t.Errorf("unexpected keypoints dir %s", kpDir)
	}
}

func TestDatabasePath(t *testing.T) {
	got := DatabasePath("/data/faces")
	want := filepath.Join("/data/faces", "labels.db")
	if got != want {
		t.Errorf("DatabasePath = %s, want %s", got, want)
	}
}

func TestDerivedName(t *testing.T) {
	tests := []struct {
		raw  string
		kind ArtifactKind
		want string
	}{
		{"face_001.png", SegmentedImage, "face_001_segmented.png"},
		{"face_001.png", SegmentationMask, "face_001_mask.npy"},
		{"face_001.jpg", BlobImage, "face_001_blobs.png"},
		{"face_001.jpg", BlobKeypoints, "face_001_keypoints.json"},
		{"/ws/sub/face_2.png", SegmentedImage, "face_2_segmented.png"},
	}

	for _, tt := range tests {
		if got := DerivedName(tt.raw, tt.kind); got != tt.want {
			t.Errorf("DerivedName(%q, %d) = %q, want %q", tt.raw, tt.kind, got, tt.want)
		}
	}
}
