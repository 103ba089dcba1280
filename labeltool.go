// Package labeltool provides image labeling workspaces backed by SQLite.
//
// A workspace is a directory of jpg/png images plus the artifacts the
// labeling workflow derives from them: a label database, segmentation
// outputs, and blob detection outputs. Opening a workspace loads the
// folder layout from settings.json (deriving and persisting it on
// first open), scans the images in natural order, and reports any
// drift between database rows and files on disk. Reconciliation only
// happens through Sync, never as a side effect of opening.
//
// Basic usage:
//
//	package main
//
//	import (
//		"fmt"
//		"log"
//
//		"github.com/skinscan/labeltool"
//	)
//
//	func main() {
//		ws, err := labeltool.Open("/data/lesions")
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer ws.Close()
//
//		if !ws.HasDatabase() {
//			if err := ws.InitDatabase(false); err != nil {
//				log.Fatal(err)
//			}
//		}
//
//		if _, err := ws.AddLabel("Red Spot", "r"); err != nil {
//			log.Fatal(err)
//		}
//
//		// Toggle the label on the current image by its key binding.
//		if _, err := ws.Session().ToggleLabelByKey("r"); err != nil {
//			log.Fatal(err)
//		}
//
//		labels, _ := ws.Session().CurrentLabels()
//		fmt.Println(labels)
//	}
//
// The package consists of five main components:
//
// 1. Workspace (pkg/workspace): folder layout, image scanning, naming
// 2. Store (pkg/store): the SQLite label database
// 3. Session (pkg/session): navigation and label toggling
// 4. Segmentation (pkg/segmentation): masks, rendering, segmenter contract
// 5. Blob (pkg/blob): blob detection and keypoint annotation
package labeltool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/skinscan/labeltool/internal/config"
	"github.com/skinscan/labeltool/pkg/blob"
	"github.com/skinscan/labeltool/pkg/segmentation"
	"github.com/skinscan/labeltool/pkg/session"
	"github.com/skinscan/labeltool/pkg/store"
	"github.com/skinscan/labeltool/pkg/syncer"
	"github.com/skinscan/labeltool/pkg/workspace"
)

// Version of the labeltool library
const Version = "1.0.0"

// Workspace is a high-level handle on one labeling workspace: its
// settings, its image list, its database (when present), and the
// labeling session over them.
type Workspace struct {
	root     string
	settings config.Settings
	blobCfg  config.BlobSettings
	images   []string
	store    *store.Store
	session  *session.Session
	logger   *zap.Logger
}

// Open opens the workspace rooted at dir. A layout persisted in
// settings.json is reused; otherwise the folder layout is derived and
// written back. Images are scanned in natural order, and when a label
// database exists it is opened and checked for drift against the files
// on disk. The check is advisory; rows are never touched until Sync is
// called. A missing database is not an error; the workspace opens in
// browse-only mode until InitDatabase is called.
func Open(dir string) (*Workspace, error) {
	return OpenWithLogger(dir, zap.NewNop())
}

// OpenWithLogger is Open with a caller-supplied logger.
func OpenWithLogger(dir string, logger *zap.Logger) (*Workspace, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("workspace %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s: not a directory", dir)
	}

	settings, found, err := config.LoadSettings(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if found && settings.Validate() == nil && settings.WorkspacePath == dir {
		// A persisted layout wins over re-derivation. The folders may
		// have been cleaned up since the last session, so recreate them.
		for _, folder := range []string{
			settings.SegImageFolder, settings.SegMaskFolder,
			settings.BlobImageFolder, settings.BlobKeypointsFolder,
		} {
			if err := os.MkdirAll(folder, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", folder, err)
			}
		}
	} else {
		segImages, segMasks, err := workspace.DeriveSegmentationPaths(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to derive segmentation folders: %w", err)
		}
		blobImages, blobKeypoints, err := workspace.DeriveBlobPaths(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to derive blob folders: %w", err)
		}
		settings = config.Settings{
			DBPath:              workspace.DatabasePath(dir),
			WorkspacePath:       dir,
			SegImageFolder:      segImages,
			SegMaskFolder:       segMasks,
			BlobImageFolder:     blobImages,
			BlobKeypointsFolder: blobKeypoints,
		}
		if err := settings.Save(dir); err != nil {
			return nil, fmt.Errorf("failed to save settings: %w", err)
		}
	}

	blobCfg, found, err := config.LoadBlobSettings(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load blob settings: %w", err)
	}
	if !found {
		if err := blobCfg.Save(dir); err != nil {
			return nil, fmt.Errorf("failed to save blob settings: %w", err)
		}
	}
	if err := blobCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid blob settings: %w", err)
	}

	images, err := workspace.ListImages(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan images: %w", err)
	}
	logger.Info("workspace opened",
		zap.String("root", dir),
		zap.Int("images", len(images)))

	ws := &Workspace{
		root:     dir,
		settings: settings,
		blobCfg:  blobCfg,
		images:   images,
		session:  session.New(images, nil),
		logger:   logger,
	}

	if _, err := os.Stat(settings.DBPath); err == nil {
		st, err := store.Open(settings.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		ws.store = st
		ws.session.AttachStore(st)

		// Advisory only. A mismatch may be an in-progress copy into the
		// workspace; repairing it is Sync's job, on explicit request.
		drift, err := syncer.Drift(images, st)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to check database: %w", err)
		}
		if drift != 0 {
			logger.Warn("database out of sync",
				zap.Int("images", drift))
		}
	}

	return ws, nil
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string {
	return w.root
}

// Settings returns the persisted folder layout.
func (w *Workspace) Settings() config.Settings {
	return w.settings
}

// BlobSettings returns the blob detector tuning for this workspace.
func (w *Workspace) BlobSettings() config.BlobSettings {
	return w.blobCfg
}

// Images returns the scanned image paths in natural order.
func (w *Workspace) Images() []string {
	return w.images
}

// Session returns the labeling session over the workspace images.
func (w *Workspace) Session() *session.Session {
	return w.session
}

// Store returns the label database, or nil when none exists yet.
func (w *Workspace) Store() *store.Store {
	return w.store
}

// HasDatabase reports whether the workspace has an open label database.
func (w *Workspace) HasDatabase() bool {
	return w.store != nil
}

// InitDatabase creates the label database and seeds it with the current
// image list. An existing database is refused unless force is set, in
// which case it is removed and recreated from scratch, discarding all
// labels.
func (w *Workspace) InitDatabase(force bool) error {
	dbPath := w.settings.DBPath
	if _, err := os.Stat(dbPath); err == nil {
		if !force {
			return store.ErrDatabaseExists
		}
		if w.store != nil {
			w.store.Close()
			w.store = nil
			w.session.AttachStore(nil)
		}
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove database: %w", err)
			}
		}
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	if err := st.InitSchema(); err != nil {
		st.Close()
		return err
	}
	if err := st.SeedImages(w.images); err != nil {
		st.Close()
		return err
	}

	w.store = st
	w.session.AttachStore(st)
	w.logger.Info("database initialized",
		zap.String("path", dbPath),
		zap.Int("images", len(w.images)))
	return nil
}

// Sync rescans the workspace images and reconciles the database rows
// against them. Label associations of surviving images are untouched.
func (w *Workspace) Sync() (syncer.Result, error) {
	images, err := workspace.ListImages(w.root)
	if err != nil {
		return syncer.Result{}, fmt.Errorf("failed to scan images: %w", err)
	}
	w.images = images
	w.session.SetImages(images)

	if w.store == nil {
		return syncer.Result{}, session.ErrNoDatabase
	}
	res, err := syncer.Reconcile(images, w.store)
	if err != nil {
		return syncer.Result{}, err
	}
	w.logger.Info("database synced",
		zap.Int("added", res.Added),
		zap.Int("removed", res.Removed))
	return res, nil
}

// Drift reports how far the database image count is from the files on
// disk. It is advisory; Sync repairs it.
func (w *Workspace) Drift() (int, error) {
	if w.store == nil {
		return 0, session.ErrNoDatabase
	}
	return syncer.Drift(w.images, w.store)
}

// AddLabel adds a label with a key binding to the database.
func (w *Workspace) AddLabel(name, keyBinding string) (int64, error) {
	if w.store == nil {
		return 0, session.ErrNoDatabase
	}
	return w.store.AddLabel(name, keyBinding)
}

// RemoveLabel deletes a label and all its image associations.
func (w *Workspace) RemoveLabel(id int64) error {
	if w.store == nil {
		return session.ErrNoDatabase
	}
	return w.store.RemoveLabel(id)
}

// Labels lists the defined labels in insertion order.
func (w *Workspace) Labels() ([]store.Label, error) {
	if w.store == nil {
		return nil, session.ErrNoDatabase
	}
	return w.store.ListLabels()
}

// SegmentCurrent runs a segmenter on the current image and places the
// outputs in the derived segmentation folders. It returns the paths of
// the written overlay image and mask.
func (w *Workspace) SegmentCurrent(ctx context.Context, seg segmentation.Segmenter) (outImage, outMask string, err error) {
	img, ok := w.session.CurrentImage()
	if !ok {
		return "", "", session.ErrWorkspaceNotSelected
	}
	return w.SegmentImage(ctx, img, seg)
}

// SegmentImage runs a segmenter on one workspace image.
func (w *Workspace) SegmentImage(ctx context.Context, img string, seg segmentation.Segmenter) (outImage, outMask string, err error) {
	name := filepath.Base(img)
	outImage = filepath.Join(w.settings.SegImageFolder, workspace.DerivedName(name, workspace.SegmentedImage))
	outMask = filepath.Join(w.settings.SegMaskFolder, workspace.DerivedName(name, workspace.SegmentationMask))

	if err := seg.Segment(ctx, img, outImage, outMask); err != nil {
		return "", "", fmt.Errorf("segmentation failed: %w", err)
	}
	w.logger.Info("image segmented",
		zap.String("image", name),
		zap.String("mask", outMask))
	return outImage, outMask, nil
}

// DetectBlobsCurrent runs blob detection on the current image, labels
// the keypoints against its segmentation mask, and writes the annotated
// image and keypoints JSON to the derived blob folders. The mask must
// already exist; run SegmentCurrent first.
func (w *Workspace) DetectBlobsCurrent() ([]blob.LabeledKeypoint, error) {
	img, ok := w.session.CurrentImage()
	if !ok {
		return nil, session.ErrWorkspaceNotSelected
	}
	return w.DetectBlobsImage(img)
}

// DetectBlobsImage runs blob detection and annotation on one workspace
// image. Its segmentation mask must already exist.
func (w *Workspace) DetectBlobsImage(img string) ([]blob.LabeledKeypoint, error) {
	name := filepath.Base(img)
	maskPath := filepath.Join(w.settings.SegMaskFolder, workspace.DerivedName(name, workspace.SegmentationMask))
	if _, err := os.Stat(maskPath); err != nil {
		return nil, fmt.Errorf("no segmentation mask for %s: %w", name, err)
	}

	detector := blob.NewWithParams(blobParams(w.blobCfg))
	keypoints, err := detector.DetectFile(img)
	if err != nil {
		return nil, fmt.Errorf("blob detection failed: %w", err)
	}

	outImage := filepath.Join(w.settings.BlobImageFolder, workspace.DerivedName(name, workspace.BlobImage))
	outJSON := filepath.Join(w.settings.BlobKeypointsFolder, workspace.DerivedName(name, workspace.BlobKeypoints))
	labeled, err := blob.Annotate(img, maskPath, keypoints, outImage, outJSON)
	if err != nil {
		return nil, err
	}
	w.logger.Info("blobs detected",
		zap.String("image", name),
		zap.Int("keypoints", len(labeled)))
	return labeled, nil
}

// SaveBlobSettings persists new detector tuning for the workspace.
func (w *Workspace) SaveBlobSettings(b config.BlobSettings) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if err := b.Save(w.root); err != nil {
		return err
	}
	w.blobCfg = b
	return nil
}

// Close releases the database handle if one is open.
func (w *Workspace) Close() error {
	if w.store == nil {
		return nil
	}
	err := w.store.Close()
	w.store = nil
	return err
}

// blobParams maps persisted tuning onto detector params.
func blobParams(b config.BlobSettings) blob.Params {
	return blob.Params{
		FilterByArea:        b.FilterByArea,
		MinArea:             b.MinArea,
		MaxArea:             b.MaxArea,
		MinDistBetweenBlobs: b.MinDistBetweenBlobs,

		FilterByCircularity: b.FilterByCircularity,
		MinCircularity:      b.MinCircularity,

		FilterByColor: b.FilterByColor,
		BlobColor:     b.BlobColor,
		MinThreshold:  b.MinThreshold,
		MaxThreshold:  b.MaxThreshold,
		ThresholdStep: b.ThresholdStep,

		FilterByInertia: b.FilterByInertia,
		MinInertiaRatio: b.MinInertiaRatio,

		FilterByConvexity: b.FilterByConvexity,
		MinConvexity:      b.MinConvexity,

		MinRepeatability: b.MinRepeatability,

		GaussianBlurKernelSize: b.GaussianBlurKernelSize,
	}
}
