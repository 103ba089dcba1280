package labeltool

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/skinscan/labeltool/internal/config"
	"github.com/skinscan/labeltool/pkg/segmentation"
	"github.com/skinscan/labeltool/pkg/session"
	"github.com/skinscan/labeltool/pkg/store"
)

// writeTestImage writes a light gray image, optionally with a dark disk
// at its center.
func writeTestImage(t *testing.T, path string, size int, withBlob bool) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{230, 230, 230, 255})
		}
	}
	if withBlob {
		c, r := size/2, size/8
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				if math.Hypot(float64(x-c), float64(y-c)) <= float64(r) {
					img.Set(x, y, color.RGBA{20, 20, 20, 255})
				}
			}
		}
	}
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("failed to write test image %s: %v", path, err)
	}
}

// newTestWorkspace creates a workspace directory with three images
// named so natural ordering differs from lexicographic.
func newTestWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"img1.png", "img2.png", "img10.png"} {
		writeTestImage(t, filepath.Join(dir, name), 16, false)
	}
	return dir
}

func TestOpenWithoutDatabase(t *testing.T) {
	dir := newTestWorkspace(t)

	ws, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ws.Close()

	if ws.HasDatabase() {
		t.Error("fresh workspace should have no database")
	}
	if _, err := ws.Drift(); !errors.Is(err, session.ErrNoDatabase) {
		t.Errorf("Drift error = %v, want ErrNoDatabase", err)
	}
	if _, err := ws.Session().ToggleLabelByKey("r"); !errors.Is(err, session.ErrNoDatabase) {
		t.Errorf("ToggleLabelByKey error = %v, want ErrNoDatabase", err)
	}

	want := []string{"img1.png", "img2.png", "img10.png"}
	got := ws.Images()
	if len(got) != len(want) {
		t.Fatalf("Images() = %v, want %d entries", got, len(want))
	}
	for i, p := range got {
		if filepath.Base(p) != want[i] {
			t.Errorf("image %d = %s, want %s", i, filepath.Base(p), want[i])
		}
	}

	// Layout derivation persisted.
	if _, err := os.Stat(filepath.Join(dir, config.SettingsFileName)); err != nil {
		t.Errorf("settings.json not written: %v", err)
	}
	if _, err := os.Stat(ws.Settings().SegMaskFolder); err != nil {
		t.Errorf("mask folder not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, config.BlobSettingsFileName)); err != nil {
		t.Errorf("blob_settings.json not written: %v", err)
	}
}

func TestOpenMissingDirectory(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing workspace directory")
	}
}

func TestInitDatabase(t *testing.T) {
	dir := newTestWorkspace(t)
	ws, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	if err := ws.InitDatabase(false); err != nil {
		t.Fatalf("InitDatabase failed: %v", err)
	}
	if !ws.HasDatabase() {
		t.Fatal("database should be open after init")
	}
	n, err := ws.Store().CountImages()
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("seeded %d images, want 3", n)
	}

	if err := ws.InitDatabase(false); !errors.Is(err, store.ErrDatabaseExists) {
		t.Errorf("second init error = %v, want ErrDatabaseExists", err)
	}

	// Force reinit discards labels.
	if _, err := ws.AddLabel("Red Spot", "r"); err != nil {
		t.Fatal(err)
	}
	if err := ws.InitDatabase(true); err != nil {
		t.Fatalf("forced reinit failed: %v", err)
	}
	labels, err := ws.Labels()
	if err != nil {
		t.Fatal(err)
	}
	if len(labels) != 0 {
		t.Errorf("forced reinit kept labels: %+v", labels)
	}
}

func TestLabelWorkflow(t *testing.T) {
	dir := newTestWorkspace(t)
	ws, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	if err := ws.InitDatabase(false); err != nil {
		t.Fatal(err)
	}

	id, err := ws.AddLabel("Red Spot", "r")
	if err != nil {
		t.Fatalf("AddLabel failed: %v", err)
	}

	sess := ws.Session()
	res, err := sess.ToggleLabelByKey("r")
	if err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if res == nil || !res.Present {
		t.Fatalf("toggle result = %+v, want applied", res)
	}
	labels, err := sess.CurrentLabels()
	if err != nil {
		t.Fatal(err)
	}
	if len(labels) != 1 || labels[0] != "Red Spot" {
		t.Errorf("CurrentLabels = %v, want [Red Spot]", labels)
	}

	// Same key again removes the association.
	res, err = sess.ToggleLabelByKey("r")
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.Present {
		t.Fatalf("second toggle result = %+v, want removed", res)
	}

	// Navigation keys never reach label dispatch.
	res, err = sess.ToggleLabelByKey(",")
	if err != nil || res != nil {
		t.Errorf("reserved key dispatched: res=%+v err=%v", res, err)
	}

	// Label removal cascades to the display.
	if _, err := sess.ToggleLabelByKey("R"); err != nil {
		t.Fatal(err)
	}
	if err := ws.RemoveLabel(id); err != nil {
		t.Fatal(err)
	}
	labels, err = sess.CurrentLabels()
	if err != nil {
		t.Fatal(err)
	}
	if len(labels) != 0 {
		t.Errorf("labels after removal = %v, want none", labels)
	}
}

func TestSyncAfterFileChanges(t *testing.T) {
	dir := newTestWorkspace(t)
	ws, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	if err := ws.InitDatabase(false); err != nil {
		t.Fatal(err)
	}

	// Label an image that will survive the changes.
	if _, err := ws.AddLabel("Keep", "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := ws.Session().ToggleLabelByKey("k"); err != nil {
		t.Fatal(err)
	}

	writeTestImage(t, filepath.Join(dir, "img3.png"), 16, false)
	if err := os.Remove(filepath.Join(dir, "img10.png")); err != nil {
		t.Fatal(err)
	}

	res, err := ws.Sync()
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if res.Added != 1 || res.Removed != 1 {
		t.Errorf("Sync = %+v, want one added, one removed", res)
	}

	drift, err := ws.Drift()
	if err != nil {
		t.Fatal(err)
	}
	if drift != 0 {
		t.Errorf("drift after sync = %d, want 0", drift)
	}

	labels, err := ws.Session().CurrentLabels()
	if err != nil {
		t.Fatal(err)
	}
	if len(labels) != 1 || labels[0] != "Keep" {
		t.Errorf("labels after sync = %v, want [Keep]", labels)
	}
}

func TestReopenKeepsDatabase(t *testing.T) {
	dir := newTestWorkspace(t)
	ws, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.InitDatabase(false); err != nil {
		t.Fatal(err)
	}
	if _, err := ws.AddLabel("Mole", "m"); err != nil {
		t.Fatal(err)
	}
	if _, err := ws.Session().ToggleLabelByKey("m"); err != nil {
		t.Fatal(err)
	}
	if err := ws.Close(); err != nil {
		t.Fatal(err)
	}

	ws, err = Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	if !ws.HasDatabase() {
		t.Fatal("reopen should pick up the existing database")
	}
	labels, err := ws.Session().CurrentLabels()
	if err != nil {
		t.Fatal(err)
	}
	if len(labels) != 1 || labels[0] != "Mole" {
		t.Errorf("labels after reopen = %v, want [Mole]", labels)
	}
}

func TestOpenReportsDriftWithoutReconciling(t *testing.T) {
	dir := newTestWorkspace(t)
	ws, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.InitDatabase(false); err != nil {
		t.Fatal(err)
	}
	if _, err := ws.AddLabel("Keep", "k"); err != nil {
		t.Fatal(err)
	}
	// Current image is img1.png; label it so a silent reconcile on the
	// next open would be visible as lost data.
	if _, err := ws.Session().ToggleLabelByKey("k"); err != nil {
		t.Fatal(err)
	}
	if err := ws.Close(); err != nil {
		t.Fatal(err)
	}

	img1 := filepath.Join(dir, "img1.png")
	if err := os.Remove(img1); err != nil {
		t.Fatal(err)
	}

	ws, err = Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	// The row and its label survive the open untouched.
	n, err := ws.Store().CountImages()
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("images in database after reopen = %d, want 3", n)
	}
	id, found, err := ws.Store().FindImageID(img1)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("deleted image's row removed by Open")
	}
	labels, err := ws.Store().LabelsForImage(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(labels) != 1 || labels[0] != "Keep" {
		t.Errorf("labels on stale row = %v, want [Keep]", labels)
	}

	drift, err := ws.Drift()
	if err != nil {
		t.Fatal(err)
	}
	if drift != 1 {
		t.Errorf("drift after reopen = %d, want 1", drift)
	}

	// Explicit sync is the only path that repairs the mismatch.
	res, err := ws.Sync()
	if err != nil {
		t.Fatal(err)
	}
	if res.Removed != 1 || res.Added != 0 {
		t.Errorf("Sync = %+v, want one removed", res)
	}
	if _, found, _ := ws.Store().FindImageID(img1); found {
		t.Error("stale row survived explicit sync")
	}
}

func TestOpenReusesPersistedLayout(t *testing.T) {
	dir := newTestWorkspace(t)
	ws, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	custom := ws.Settings()
	if err := ws.Close(); err != nil {
		t.Fatal(err)
	}

	// An operator may point the mask folder elsewhere; the next open
	// must honor it instead of re-deriving the default layout.
	custom.SegMaskFolder = filepath.Join(dir, "custom_masks")
	if err := custom.Save(dir); err != nil {
		t.Fatal(err)
	}

	ws, err = Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	if got := ws.Settings().SegMaskFolder; got != custom.SegMaskFolder {
		t.Errorf("SegMaskFolder = %s, want persisted %s", got, custom.SegMaskFolder)
	}
	if _, err := os.Stat(custom.SegMaskFolder); err != nil {
		t.Errorf("persisted mask folder not created: %v", err)
	}
	persisted, found, err := config.LoadSettings(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !found || persisted.SegMaskFolder != custom.SegMaskFolder {
		t.Errorf("settings.json rewritten on open: %+v", persisted)
	}
}

// maskSegmenter fakes a segmenter by copying the input image as the
// overlay and writing an all-skin mask.
type maskSegmenter struct{}

func (maskSegmenter) Segment(_ context.Context, imagePath, outImagePath, outMaskPath string) error {
	img, err := imaging.Open(imagePath)
	if err != nil {
		return err
	}
	if err := imaging.Save(img, outImagePath); err != nil {
		return err
	}
	b := img.Bounds()
	data := make([]int, b.Dx()*b.Dy())
	for i := range data {
		data[i] = segmentation.SkinIndex
	}
	mask, err := segmentation.NewMask(b.Dx(), b.Dy(), data)
	if err != nil {
		return err
	}
	return segmentation.WriteMask(outMaskPath, mask)
}

func TestSegmentAndDetectBlobs(t *testing.T) {
	dir := t.TempDir()
	writeTestImage(t, filepath.Join(dir, "lesion.png"), 120, true)

	ws, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	// Blobs require a mask first.
	if _, err := ws.DetectBlobsCurrent(); err == nil {
		t.Error("expected error before segmentation")
	}

	outImage, outMask, err := ws.SegmentCurrent(context.Background(), maskSegmenter{})
	if err != nil {
		t.Fatalf("SegmentCurrent failed: %v", err)
	}
	if filepath.Base(outImage) != "lesion_segmented.png" {
		t.Errorf("overlay name = %s", filepath.Base(outImage))
	}
	if filepath.Base(outMask) != "lesion_mask.npy" {
		t.Errorf("mask name = %s", filepath.Base(outMask))
	}
	if _, err := os.Stat(outMask); err != nil {
		t.Fatalf("mask not written: %v", err)
	}

	keypoints, err := ws.DetectBlobsCurrent()
	if err != nil {
		t.Fatalf("DetectBlobsCurrent failed: %v", err)
	}
	if len(keypoints) != 1 {
		t.Fatalf("keypoints = %+v, want the one disk", keypoints)
	}
	if keypoints[0].Label != "skin" {
		t.Errorf("keypoint label = %q, want skin", keypoints[0].Label)
	}

	blobImage := filepath.Join(ws.Settings().BlobImageFolder, "lesion_blobs.png")
	if _, err := os.Stat(blobImage); err != nil {
		t.Errorf("annotated image not written: %v", err)
	}
	keypointsJSON := filepath.Join(ws.Settings().BlobKeypointsFolder, "lesion_keypoints.json")
	if _, err := os.Stat(keypointsJSON); err != nil {
		t.Errorf("keypoints JSON not written: %v", err)
	}
}
