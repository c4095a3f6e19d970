// SPDX-License-Identifier: MIT

// Package frame defines the in-memory video frame representation shared by
// ingest, detectors and encoders, plus the ring buffer they exchange frames
// through.
package frame

import (
	"fmt"
	"time"
)

// Format identifies the pixel layout of a frame.
type Format string

const (
	// FormatGray is single-channel 8-bit luminance.
	FormatGray Format = "gray"
	// FormatBGR is 24-bit interleaved blue-green-red, the layout rawvideo
	// decoders emit for bgr24.
	FormatBGR Format = "bgr"
)

// BytesPerPixel returns the per-pixel byte width of the format.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatGray:
		return 1
	case FormatBGR:
		return 3
	default:
		return 0
	}
}

// Valid reports whether the format is one of the supported layouts.
func (f Format) Valid() bool {
	return f == FormatGray || f == FormatBGR
}

// Frame is one decoded video frame. Pix is row-major with the given Stride;
// a frame handed to the ring must never be mutated afterwards, readers share
// the backing array.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Stride    int
	Format    Format
	Pix       []byte
}

// New allocates a frame with a tightly packed backing buffer.
func New(width, height int, format Format) Frame {
	stride := width * format.BytesPerPixel()
	return Frame{
		Width:  width,
		Height: height,
		Stride: stride,
		Format: format,
		Pix:    make([]byte, stride*height),
	}
}

// Validate checks the dimensional invariants of the frame.
func (f Frame) Validate() error {
	if !f.Format.Valid() {
		return fmt.Errorf("unsupported pixel format: %q", f.Format)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", f.Width, f.Height)
	}
	if f.Stride < f.Width*f.Format.BytesPerPixel() {
		return fmt.Errorf("stride %d too small for width %d", f.Stride, f.Width)
	}
	if len(f.Pix) < f.Stride*f.Height {
		return fmt.Errorf("pix buffer %d bytes, need %d", len(f.Pix), f.Stride*f.Height)
	}
	return nil
}

// Clone returns a deep copy with its own backing buffer.
func (f Frame) Clone() Frame {
	out := f
	out.Pix = make([]byte, len(f.Pix))
	copy(out.Pix, f.Pix)
	return out
}

// Empty reports whether the frame carries no pixel data.
func (f Frame) Empty() bool {
	return len(f.Pix) == 0
}
