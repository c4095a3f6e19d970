// SPDX-License-Identifier: MIT

// Package annotate draws detection overlays (boxes, labels, marker dots,
// status text) straight into BGR frames before they are re-encoded or
// served as snapshots.
package annotate

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/alexeybutyrev/cv2pipeline/internal/frame"
)

// Color is a BGR triple, matching the byte order of the frames it is drawn
// into.
type Color struct {
	B, G, R byte
}

var (
	White  = Color{255, 255, 255}
	Black  = Color{0, 0, 0}
	Red    = Color{0, 0, 255}
	Green  = Color{0, 255, 0}
	Yellow = Color{0, 255, 255}
)

// canvas adapts a BGR frame to draw.Image so font rendering can write into
// it directly.
type canvas struct {
	f frame.Frame
}

func (c canvas) ColorModel() color.Model { return color.RGBAModel }

func (c canvas) Bounds() image.Rectangle { return image.Rect(0, 0, c.f.Width, c.f.Height) }

func (c canvas) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= c.f.Width || y >= c.f.Height {
		return color.RGBA{}
	}
	i := y*c.f.Stride + x*3
	return color.RGBA{R: c.f.Pix[i+2], G: c.f.Pix[i+1], B: c.f.Pix[i], A: 255}
}

func (c canvas) Set(x, y int, col color.Color) {
	if x < 0 || y < 0 || x >= c.f.Width || y >= c.f.Height {
		return
	}
	r, g, b, _ := col.RGBA()
	i := y*c.f.Stride + x*3
	c.f.Pix[i] = byte(b >> 8)
	c.f.Pix[i+1] = byte(g >> 8)
	c.f.Pix[i+2] = byte(r >> 8)
}

func setPixel(f frame.Frame, x, y int, c Color) {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height || f.Format != frame.FormatBGR {
		return
	}
	i := y*f.Stride + x*3
	f.Pix[i] = c.B
	f.Pix[i+1] = c.G
	f.Pix[i+2] = c.R
}

// Box outlines the rectangle with the given edge thickness. Coordinates
// outside the frame are clipped.
func Box(f frame.Frame, r image.Rectangle, c Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	for t := 0; t < thickness; t++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			setPixel(f, x, r.Min.Y+t, c)
			setPixel(f, x, r.Max.Y-1-t, c)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			setPixel(f, r.Min.X+t, y, c)
			setPixel(f, r.Max.X-1-t, y, c)
		}
	}
}

// Dot fills a circle of the given radius around center.
func Dot(f frame.Frame, center image.Point, radius int, c Color) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				setPixel(f, center.X+dx, center.Y+dy, c)
			}
		}
	}
}

// Line draws a one-pixel Bresenham line between a and b.
func Line(f frame.Frame, a, b image.Point, c Color) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	err := dx + dy
	x, y := a.X, a.Y
	for {
		setPixel(f, x, y, c)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

// Label renders text with the fixed 7x13 face, anchored at the baseline
// origin.
func Label(f frame.Frame, org image.Point, text string, c Color) {
	if f.Format != frame.FormatBGR {
		return
	}
	d := font.Drawer{
		Dst:  canvas{f},
		Src:  image.NewUniform(color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(org.X, org.Y),
	}
	d.DrawString(text)
}

// StatusLine writes a single overlay line in the top-left corner, the spot
// the live feed reserves for fps and frame counters. A green marker dot
// leads the text and a one-pixel shadow keeps it readable on light frames.
func StatusLine(f frame.Frame, text string) {
	Dot(f, image.Pt(9, 12), 3, Green)
	Label(f, image.Pt(17, 17), text, Black)
	Label(f, image.Pt(16, 16), text, White)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
