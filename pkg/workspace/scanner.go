package workspace

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/maruel/natural"
)

// imageGlobs are the two raw-image patterns the scanner matches.
// Matching is case-sensitive on purpose: derived artifacts reuse the
// raw file name verbatim, so an IMG.JPG admitted here would produce
// artifacts the rest of the tooling never looks for.
var imageGlobs = []string{"*.jpg", "*.png"}

// ListImages returns the image files directly inside dir, in natural
// order (img2.png sorts before img10.png). The result is a plain
// slice: repeated calls rescan the directory and are safe to compare.
// An empty or image-free directory yields an empty slice, not an error.
func ListImages(dir string) ([]string, error) {
	var paths []string
	for _, pattern := range imageGlobs {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
		}
		paths = append(paths, matches...)
	}

	sort.Slice(paths, func(i, j int) bool {
		return natural.Less(paths[i], paths[j])
	})
	return paths, nil
}
