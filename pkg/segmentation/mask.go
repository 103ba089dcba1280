package segmentation

import (
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// Mask is a 2-D array of class indexes, one per pixel of the raw
// image it was derived from.
type Mask struct {
	Width  int
	Height int
	data   []int
}

// At returns the class index at pixel (x, y).
func (m *Mask) At(x, y int) int {
	return m.data[y*m.Width+x]
}

// NewMask builds a mask from row-major class indexes.
func NewMask(width, height int, data []int) (*Mask, error) {
	if len(data) != width*height {
		return nil, fmt.Errorf("mask data length %d does not match %dx%d", len(data), width, height)
	}
	return &Mask{Width: width, Height: height, data: data}, nil
}

// LoadMask reads a .npy mask artifact. Masks written by the Python
// model are int64 ("<i8"); masks written by WriteMask are float64 —
// both are accepted.
func LoadMask(path string) (*Mask, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mask %s: %w", path, err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read npy header of %s: %w", path, err)
	}

	shape := r.Header.Descr.Shape
	if len(shape) != 2 {
		return nil, fmt.Errorf("mask %s has shape %v, want 2-D", path, shape)
	}
	height, width := shape[0], shape[1]

	data := make([]int, width*height)
	switch r.Header.Descr.Type {
	case "<i8", "|i8", ">i8":
		var raw []int64
		if err := r.Read(&raw); err != nil {
			return nil, fmt.Errorf("failed to read mask %s: %w", path, err)
		}
		for i, v := range raw {
			data[i] = int(v)
		}
	case "<f8", "|f8", ">f8":
		var raw []float64
		if err := r.Read(&raw); err != nil {
			return nil, fmt.Errorf("failed to read mask %s: %w", path, err)
		}
		for i, v := range raw {
			data[i] = int(v)
		}
	default:
		return nil, fmt.Errorf("mask %s has unsupported dtype %s", path, r.Header.Descr.Type)
	}

	return NewMask(width, height, data)
}

// WriteMask writes a mask as a .npy artifact at the given path.
func WriteMask(path string, m *Mask) error {
	vals := make([]float64, len(m.data))
	for i, v := range m.data {
		vals[i] = float64(v)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create mask %s: %w", path, err)
	}
	if err := npyio.Write(f, mat.NewDense(m.Height, m.Width, vals)); err != nil {
		f.Close()
		return fmt.Errorf("failed to write mask %s: %w", path, err)
	}
	return f.Close()
}

// RenderMask colorizes a mask with the class palette and writes it as
// an image, producing the preview the segmented-image set displays.
func RenderMask(m *Mask, outPath string) error {
	img := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			img.SetNRGBA(x, y, ClassColor(m.At(x, y)))
		}
	}
	if err := imaging.Save(img, outPath); err != nil {
		return fmt.Errorf("failed to save mask preview %s: %w", outPath, err)
	}
	return nil
}
