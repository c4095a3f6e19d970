// SPDX-License-Identifier: MIT

package vision

import "github.com/alexeybutyrev/cv2pipeline/internal/frame"

// Background maintains a running-average model of the static scene. The
// first frame seeds the model; later frames are blended in with the given
// weight so slow lighting changes are absorbed while short-lived movement
// stands out in Delta.
type Background struct {
	width  int
	height int
	acc    []float32
}

// NewBackground returns an unseeded background model.
func NewBackground() *Background {
	return &Background{}
}

// Seeded reports whether the model has absorbed at least one frame.
func (b *Background) Seeded() bool {
	return b.acc != nil
}

// Update blends a gray frame into the model with weight alpha in (0,1].
// The first call seeds the model and returns true; detection should skip
// that frame.
func (b *Background) Update(src frame.Frame, alpha float64) bool {
	if b.acc == nil || b.width != src.Width || b.height != src.Height {
		b.width = src.Width
		b.height = src.Height
		b.acc = make([]float32, src.Width*src.Height)
		for y := 0; y < src.Height; y++ {
			srow := src.Pix[y*src.Stride : y*src.Stride+src.Width]
			for x, v := range srow {
				b.acc[y*src.Width+x] = float32(v)
			}
		}
		return true
	}
	a := float32(alpha)
	for y := 0; y < src.Height; y++ {
		srow := src.Pix[y*src.Stride : y*src.Stride+src.Width]
		for x, v := range srow {
			i := y*src.Width + x
			b.acc[i] = (1-a)*b.acc[i] + a*float32(v)
		}
	}
	return false
}

// Delta returns the absolute difference between the frame and the model as
// a gray frame. The model must be seeded and match the frame dimensions.
func (b *Background) Delta(src frame.Frame) frame.Frame {
	out := frame.New(src.Width, src.Height, frame.FormatGray)
	out.Seq = src.Seq
	out.Timestamp = src.Timestamp
	if b.acc == nil || b.width != src.Width || b.height != src.Height {
		return out
	}
	for y := 0; y < src.Height; y++ {
		srow := src.Pix[y*src.Stride : y*src.Stride+src.Width]
		drow := out.Pix[y*out.Stride:]
		for x, v := range srow {
			d := float32(v) - b.acc[y*src.Width+x]
			if d < 0 {
				d = -d
			}
			if d > 255 {
				d = 255
			}
			drow[x] = byte(d)
		}
	}
	return out
}

// Snapshot renders the current model as a gray frame, mainly for debugging
// endpoints.
func (b *Background) Snapshot() frame.Frame {
	out := frame.New(b.width, b.height, frame.FormatGray)
	for i, v := range b.acc {
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		out.Pix[i] = byte(v)
	}
	return out
}
