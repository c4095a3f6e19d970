// SPDX-License-Identifier: MIT

package annotate

import (
	"image"
	"testing"

	"github.com/alexeybutyrev/cv2pipeline/internal/frame"
	"github.com/stretchr/testify/assert"
)

func bgrAt(f frame.Frame, x, y int) Color {
	i := y*f.Stride + x*3
	return Color{B: f.Pix[i], G: f.Pix[i+1], R: f.Pix[i+2]}
}

func TestBoxDrawsEdgesOnly(t *testing.T) {
	f := frame.New(10, 10, frame.FormatBGR)
	Box(f, image.Rect(2, 2, 8, 8), Green, 1)

	assert.Equal(t, Green, bgrAt(f, 2, 2))
	assert.Equal(t, Green, bgrAt(f, 7, 7))
	assert.Equal(t, Green, bgrAt(f, 5, 2))
	assert.Equal(t, Color{}, bgrAt(f, 5, 5), "interior stays untouched")
}

func TestBoxClipsOutOfBounds(t *testing.T) {
	f := frame.New(4, 4, frame.FormatBGR)
	// Must not panic.
	Box(f, image.Rect(-5, -5, 20, 20), Red, 2)
	assert.Equal(t, Red, bgrAt(f, 0, 0))
}

func TestDotFillsCircle(t *testing.T) {
	f := frame.New(9, 9, frame.FormatBGR)
	Dot(f, image.Pt(4, 4), 2, Yellow)

	assert.Equal(t, Yellow, bgrAt(f, 4, 4))
	assert.Equal(t, Yellow, bgrAt(f, 4, 2))
	assert.Equal(t, Color{}, bgrAt(f, 0, 0))
}

func TestLineEndpoints(t *testing.T) {
	f := frame.New(8, 8, frame.FormatBGR)
	Line(f, image.Pt(0, 0), image.Pt(7, 7), White)

	assert.Equal(t, White, bgrAt(f, 0, 0))
	assert.Equal(t, White, bgrAt(f, 7, 7))
	assert.Equal(t, White, bgrAt(f, 3, 3))
}

func TestLabelWritesPixels(t *testing.T) {
	f := frame.New(80, 20, frame.FormatBGR)
	Label(f, image.Pt(2, 14), "fps 30", White)

	touched := 0
	for i := 0; i < len(f.Pix); i++ {
		if f.Pix[i] != 0 {
			touched++
		}
	}
	assert.Greater(t, touched, 10, "label should rasterize glyphs")
}

func TestAnnotateIgnoresGrayFrames(t *testing.T) {
	f := frame.New(8, 8, frame.FormatGray)
	Box(f, image.Rect(0, 0, 8, 8), Red, 1)
	Label(f, image.Pt(0, 7), "x", Red)
	for _, v := range f.Pix {
		assert.Equal(t, byte(0), v)
	}
}

func TestStatusLineDotAndText(t *testing.T) {
	f := frame.New(120, 24, frame.FormatBGR)
	StatusLine(f, "dock 14.5 FPS")

	// Marker dot center is solid green.
	assert.Equal(t, Green, bgrAt(f, 9, 12))

	touched := 0
	for i := 0; i < len(f.Pix); i++ {
		if f.Pix[i] != 0 {
			touched++
		}
	}
	assert.Greater(t, touched, 30, "status line should rasterize dot and glyphs")
}
