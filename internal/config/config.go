// Package config persists per-workspace configuration: the derived
// folder layout and the blob detector tuning. Both files live in the
// workspace root and are overwritten wholesale on every save; there
// is no partial-field update.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// File names inside the workspace root.
const (
	SettingsFileName     = "settings.json"
	BlobSettingsFileName = "blob_settings.json"
)

// Settings holds the derived folder layout of a workspace. The JSON
// field names are the wire format of settings.json.
type Settings struct {
	DBPath              string `json:"db_path"`
	WorkspacePath       string `json:"workspace_path"`
	SegImageFolder      string `json:"seg_image_folder"`
	SegMaskFolder       string `json:"seg_mask_folder"`
	BlobImageFolder     string `json:"blob_image_folder"`
	BlobKeypointsFolder string `json:"blob_keypoints_folder"`
}

// BlobSettings is the flat tuning record for the blob detector. It is
// persisted alongside Settings and passed through to pkg/blob, opaque
// to everything else.
type BlobSettings struct {
	FilterByArea        bool    `json:"filter_by_area"`
	MinArea             float64 `json:"min_area"`
	MaxArea             float64 `json:"max_area"`
	MinDistBetweenBlobs float64 `json:"min_dist_between_blobs"`

	FilterByCircularity bool    `json:"filter_by_circularity"`
	MinCircularity      float64 `json:"min_circularity"`

	FilterByColor bool    `json:"filter_by_color"`
	BlobColor     int     `json:"blob_color"`
	MinThreshold  float64 `json:"min_threshold"`
	MaxThreshold  float64 `json:"max_threshold"`
	ThresholdStep float64 `json:"threshold_step"`

	FilterByInertia bool    `json:"filter_by_inertia"`
	MinInertiaRatio float64 `json:"min_inertia_ratio"`

	FilterByConvexity bool    `json:"filter_by_convexity"`
	MinConvexity      float64 `json:"min_convexity"`

	MinRepeatability int `json:"min_repeatability"`

	GaussianBlurKernelSize int `json:"gaussian_blur_kernel_size"`
}

// DefaultBlobSettings returns the detector tuning used when no
// blob_settings.json exists.
func DefaultBlobSettings() BlobSettings {
	return BlobSettings{
		FilterByArea:        true,
		MinArea:             100,
		MaxArea:             10000000,
		MinDistBetweenBlobs: 10,

		FilterByCircularity: true,
		MinCircularity:      0.2,

		FilterByColor: true,
		BlobColor:     0,
		MinThreshold:  50,
		MaxThreshold:  220,
		ThresholdStep: 10,

		FilterByInertia: true,
		MinInertiaRatio: 0.2,

		FilterByConvexity: true,
		MinConvexity:      0.1,

		MinRepeatability: 2,

		GaussianBlurKernelSize: 3,
	}
}

// LoadSettings reads settings.json from a workspace root. ok is false
// when the file does not exist; that is not an error, the caller
// re-derives the layout instead.
func LoadSettings(workspacePath string) (Settings, bool, error) {
	var s Settings
	ok, err := loadJSON(filepath.Join(workspacePath, SettingsFileName), &s)
	return s, ok, err
}

// LoadBlobSettings reads blob_settings.json from a workspace root,
// falling back to defaults when the file does not exist.
func LoadBlobSettings(workspacePath string) (BlobSettings, bool, error) {
	b := DefaultBlobSettings()
	ok, err := loadJSON(filepath.Join(workspacePath, BlobSettingsFileName), &b)
	if err != nil {
		return DefaultBlobSettings(), false, err
	}
	return b, ok, nil
}

func loadJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return true, nil
}

// Save writes settings.json, replacing any previous contents.
func (s Settings) Save(workspacePath string) error {
	return saveJSON(filepath.Join(workspacePath, SettingsFileName), s)
}

// Save writes blob_settings.json, replacing any previous contents.
func (b BlobSettings) Save(workspacePath string) error {
	return saveJSON(filepath.Join(workspacePath, BlobSettingsFileName), b)
}

func saveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Validate checks the blob tuning for values the detector cannot work
// with.
func (b BlobSettings) Validate() error {
	if b.MinThreshold < 0 || b.MaxThreshold > 255 || b.MinThreshold >= b.MaxThreshold {
		return fmt.Errorf("thresholds must satisfy 0 <= min < max <= 255, got %v..%v", b.MinThreshold, b.MaxThreshold)
	}
	if b.ThresholdStep <= 0 {
		return fmt.Errorf("threshold_step must be positive, got %v", b.ThresholdStep)
	}
	if b.FilterByArea && (b.MinArea <= 0 || b.MinArea >= b.MaxArea) {
		return fmt.Errorf("area bounds must satisfy 0 < min < max, got %v..%v", b.MinArea, b.MaxArea)
	}
	if b.FilterByCircularity && (b.MinCircularity < 0 || b.MinCircularity > 1) {
		return fmt.Errorf("min_circularity must be in [0,1], got %v", b.MinCircularity)
	}
	if b.FilterByConvexity && (b.MinConvexity < 0 || b.MinConvexity > 1) {
		return fmt.Errorf("min_convexity must be in [0,1], got %v", b.MinConvexity)
	}
	if b.FilterByColor && b.BlobColor != 0 && b.BlobColor != 255 {
		return fmt.Errorf("blob_color must be 0 or 255, got %d", b.BlobColor)
	}
	if b.MinRepeatability < 1 {
		return fmt.Errorf("min_repeatability must be at least 1, got %d", b.MinRepeatability)
	}
	if b.GaussianBlurKernelSize < 1 || b.GaussianBlurKernelSize%2 == 0 {
		return fmt.Errorf("gaussian_blur_kernel_size must be odd and positive, got %d", b.GaussianBlurKernelSize)
	}
	return nil
}

// Validate checks that the layout record is complete.
func (s Settings) Validate() error {
	if s.WorkspacePath == "" {
		return fmt.Errorf("workspace_path cannot be empty")
	}
	for name, v := range map[string]string{
		"db_path":               s.DBPath,
		"seg_image_folder":      s.SegImageFolder,
		"seg_mask_folder":       s.SegMaskFolder,
		"blob_image_folder":     s.BlobImageFolder,
		"blob_keypoints_folder": s.BlobKeypointsFolder,
	} {
		if v == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
	}
	return nil
}
