package segmentation

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Segmenter is the collaborator contract with the segmentation model:
// given a raw image it writes the colorized segmented image and the
// mask artifact to the requested paths. Runs are long (model
// inference), so they take a context and should be treated as
// cancellable blocking calls.
type Segmenter interface {
	Segment(ctx context.Context, imagePath, outImagePath, outMaskPath string) error
}

// CommandSegmenter runs an external command for each segmentation.
// The command is invoked as
//
//	<command> <args...> <image> <outImage> <outMask>
//
// and must write both outputs before exiting zero. Outputs go to temp
// paths first and are renamed into place on success, so a cancelled or
// failed run never leaves a partial artifact a later read would
// mistake for a complete one.
type CommandSegmenter struct {
	Command string
	Args    []string
}

// NewCommandSegmenter wraps an external segmentation command.
func NewCommandSegmenter(command string, args ...string) *CommandSegmenter {
	return &CommandSegmenter{Command: command, Args: args}
}

// Segment implements Segmenter.
func (c *CommandSegmenter) Segment(ctx context.Context, imagePath, outImagePath, outMaskPath string) error {
	tmpImage := tempSibling(outImagePath)
	tmpMask := tempSibling(outMaskPath)
	defer os.Remove(tmpImage)
	defer os.Remove(tmpMask)

	args := append(append([]string{}, c.Args...), imagePath, tmpImage, tmpMask)
	cmd := exec.CommandContext(ctx, c.Command, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("segmentation command failed: %w: %s", err, out)
	}

	for _, p := range []string{tmpImage, tmpMask} {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("segmentation command did not produce %s: %w", p, err)
		}
	}

	if err := os.Rename(tmpImage, outImagePath); err != nil {
		return fmt.Errorf("failed to move segmented image into place: %w", err)
	}
	if err := os.Rename(tmpMask, outMaskPath); err != nil {
		return fmt.Errorf("failed to move mask into place: %w", err)
	}
	return nil
}

// tempSibling keeps the extension so collaborators that pick an output
// format from the path still behave against the temp path.
func tempSibling(path string) string {
	ext := filepath.Ext(path)
	base := filepath.Base(path)
	return filepath.Join(filepath.Dir(path), "."+base[:len(base)-len(ext)]+".tmp"+ext)
}
