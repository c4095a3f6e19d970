// SPDX-License-Identifier: MIT

package track

import "github.com/alexeybutyrev/cv2pipeline/internal/annotate"

// ClassMeta describes how a detection class is rendered and labelled.
type ClassMeta struct {
	Label string `json:"label" yaml:"label"`
	// Color is the BGR triple used for boxes and trails.
	Color [3]uint8 `json:"color" yaml:"color"`
	// VertOffset shifts the label relative to the box top, in fractions of
	// frame height; negative values place it above the box.
	VertOffset float64 `json:"vert_offset" yaml:"vert_offset"`
}

// AnnotateColor converts the metadata colour for drawing.
func (m ClassMeta) AnnotateColor() annotate.Color {
	return annotate.Color{B: m.Color[0], G: m.Color[1], R: m.Color[2]}
}

// DefaultClasses is the stock class registry used when the pipeline config
// does not provide one.
func DefaultClasses() map[string]ClassMeta {
	return map[string]ClassMeta{
		"forklift": {Label: "forklift", Color: [3]uint8{55, 125, 225}, VertOffset: -0.02},
		"person":   {Label: "person", Color: [3]uint8{225, 125, 55}, VertOffset: -0.02},
		"motion":   {Label: "motion", Color: [3]uint8{0, 255, 255}, VertOffset: -0.02},
	}
}
