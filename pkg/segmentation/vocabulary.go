// Package segmentation defines the contract with the external face
// segmentation model and owns the mask artifacts it produces: the
// fixed class vocabulary, reading/writing the 2-D integer label array
// (.npy), and colorizing a mask for previews. The model itself is an
// external collaborator reached through the Segmenter interface.
package segmentation

import "image/color"

// Vocabulary is the fixed class list of the face parsing model. A mask
// value is an index into this list; the order is part of the mask wire
// format and must not change.
var Vocabulary = []string{
	"background",
	"skin",
	"nose",
	"eye_g",
	"l_eye",
	"r_eye",
	"l_brow",
	"r_brow",
	"l_ear",
	"r_ear",
	"mouth",
	"u_lip",
	"l_lip",
	"hair",
	"hat",
	"ear_r",
	"neck_l",
	"neck",
	"cloth",
}

// Indexes of the classes the blob annotator colors specially.
const (
	BackgroundIndex = 0
	SkinIndex       = 1
	NoseIndex       = 2
)

// ClassName returns the vocabulary entry for a mask value, or
// "background" for out-of-range values (a corrupt mask should not
// crash annotation).
func ClassName(index int) string {
	if index < 0 || index >= len(Vocabulary) {
		return Vocabulary[BackgroundIndex]
	}
	return Vocabulary[index]
}

// palette maps each class to a preview color. Chosen for contrast, not
// meaning; only the previews use it.
var palette = []color.NRGBA{
	{0, 0, 0, 255},       // background
	{0, 153, 51, 255},    // skin
	{51, 51, 255, 255},   // nose
	{204, 204, 0, 255},   // eye_g
	{255, 153, 51, 255},  // l_eye
	{255, 102, 102, 255}, // r_eye
	{102, 0, 102, 255},   // l_brow
	{153, 0, 153, 255},   // r_brow
	{0, 204, 204, 255},   // l_ear
	{0, 153, 153, 255},   // r_ear
	{255, 0, 0, 255},     // mouth
	{204, 0, 102, 255},   // u_lip
	{153, 0, 51, 255},    // l_lip
	{102, 51, 0, 255},    // hair
	{255, 255, 0, 255},   // hat
	{0, 255, 255, 255},   // ear_r
	{255, 0, 255, 255},   // neck_l
	{255, 204, 153, 255}, // neck
	{128, 128, 128, 255}, // cloth
}

// ClassColor returns the preview color for a mask value.
func ClassColor(index int) color.NRGBA {
	if index < 0 || index >= len(palette) {
		return palette[BackgroundIndex]
	}
	return palette[index]
}
