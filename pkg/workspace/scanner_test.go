package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte{}, 0o644); err != nil {
		t.Fatal(err)
	}
}

func baseNames(paths []string) []string {
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	return names
}

func TestListImagesNaturalOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"img10.png", "img2.png", "img1.jpg", "img20.jpg"} {
		touch(t, dir, name)
	}

	paths, err := ListImages(dir)
	if err != nil {
		t.Fatalf("ListImages failed: %v", err)
	}

	want := []string{"img1.jpg", "img2.png", "img10.png", "img20.jpg"}
	got := baseNames(paths)
	if len(got) != len(want) {
		t.Fatalf("got %d images, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestListImagesSkipsOtherFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "face.png")
	touch(t, dir, "notes.txt")
	touch(t, dir, "labels.db")
	touch(t, dir, "photo.JPG") // wrong case, must be skipped
	if err := os.Mkdir(filepath.Join(dir, "segmented_images"), 0o755); err != nil {
		t.Fatal(err)
	}
	touch(t, filepath.Join(dir, "segmented_images"), "nested.png") // non-recursive

	paths, err := ListImages(dir)
	if err != nil {
		t.Fatalf("ListImages failed: %v", err)
	}
	if len(paths) != 1 || filepath.Base(paths[0]) != "face.png" {
		t.Errorf("expected only face.png, got %v", baseNames(paths))
	}
}

func TestListImagesEmptyDir(t *testing.T) {
	paths, err := ListImages(t.TempDir())
	if err != nil {
		t.Fatalf("ListImages on empty dir failed: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("expected empty result, got %v", paths)
	}
}

func TestListImagesRestartable(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a1.png")
	touch(t, dir, "a2.png")

	first, err := ListImages(dir)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ListImages(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) {
		t.Fatalf("scan not stable: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("position %d differs across scans: %s vs %s", i, first[i], second[i])
		}
	}
}
