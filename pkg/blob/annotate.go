package blob

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/skinscan/labeltool/pkg/segmentation"
)

// LabeledKeypoint is one entry of the keypoints JSON artifact: a
// detected blob resolved against the segmentation mask. The JSON field
// names are the wire format.
type LabeledKeypoint struct {
	X     int     `json:"x"`
	Y     int     `json:"y"`
	Size  float64 `json:"size"`
	Label string  `json:"label"`
}

// Annotation colors: green for skin, blue for nose, red for anything
// else.
var (
	skinColor  = color.NRGBA{0, 255, 0, 255}
	noseColor  = color.NRGBA{0, 0, 255, 255}
	otherColor = color.NRGBA{255, 0, 0, 255}
)

// Annotate draws the detected keypoints onto a copy of the raw image,
// labeling each by indexing the segmentation mask at its center, and
// writes the annotated image plus the keypoints JSON. Both artifacts
// are written to temp paths and renamed into place on success.
func Annotate(imagePath, maskPath string, keypoints []Keypoint, outImagePath, outJSONPath string) ([]LabeledKeypoint, error) {
	img, err := imaging.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", imagePath, err)
	}
	mask, err := segmentation.LoadMask(maskPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load mask: %w", err)
	}

	canvas := imaging.Clone(img)
	labeled := make([]LabeledKeypoint, 0, len(keypoints))
	for _, kp := range keypoints {
		class := segmentation.BackgroundIndex
		if kp.X >= 0 && kp.X < mask.Width && kp.Y >= 0 && kp.Y < mask.Height {
			class = mask.At(kp.X, kp.Y)
		}
		labeled = append(labeled, LabeledKeypoint{
			X:     kp.X,
			Y:     kp.Y,
			Size:  kp.Size,
			Label: segmentation.ClassName(class),
		})

		c := otherColor
		switch class {
		case segmentation.SkinIndex:
			c = skinColor
		case segmentation.NoseIndex:
			c = noseColor
		}
		drawCircle(canvas, kp.X, kp.Y, int(kp.Size/2)+1, c)
	}

	drawLegend(canvas)

	if err := saveImageAtomic(canvas, outImagePath); err != nil {
		return nil, err
	}
	if err := writeJSONAtomic(labeled, outJSONPath); err != nil {
		return nil, err
	}
	return labeled, nil
}

// drawCircle draws a 2px-wide circle outline centered on (cx, cy).
func drawCircle(img *image.NRGBA, cx, cy, radius int, c color.NRGBA) {
	if radius < 1 {
		radius = 1
	}
	b := img.Bounds()
	outer := float64(radius) + 1
	inner := float64(radius) - 1
	for y := cy - radius - 1; y <= cy+radius+1; y++ {
		for x := cx - radius - 1; x <= cx+radius+1; x++ {
			if x < b.Min.X || y < b.Min.Y || x >= b.Max.X || y >= b.Max.Y {
				continue
			}
			d := math.Hypot(float64(x-cx), float64(y-cy))
			if d <= outer && d >= inner {
				img.SetNRGBA(x, y, c)
			}
		}
	}
}

// drawLegend writes the fixed color key into the top-left corner.
func drawLegend(img *image.NRGBA) {
	entries := []struct {
		text string
		c    color.NRGBA
	}{
		{"Skin", skinColor},
		{"Nose", noseColor},
		{"Other", otherColor},
	}
	for i, e := range entries {
		drawText(img, 10, 30*(i+1), e.text, e.c)
	}
}

func drawText(img draw.Image, x, y int, text string, c color.NRGBA) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func saveImageAtomic(img image.Image, path string) error {
	tmp := tempSibling(path)
	if err := imaging.Save(img, tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save annotated image: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move annotated image into place: %w", err)
	}
	return nil
}

func writeJSONAtomic(v any, path string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal keypoints: %w", err)
	}
	tmp := tempSibling(path)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write keypoints: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move keypoints into place: %w", err)
	}
	return nil
}

// tempSibling keeps the extension so format-by-extension writers still
// work against the temp path.
func tempSibling(path string) string {
	ext := filepath.Ext(path)
	base := filepath.Base(path)
	return filepath.Join(filepath.Dir(path), "."+base[:len(base)-len(ext)]+".tmp"+ext)
}
