// SPDX-License-Identifier: MIT

// Package vision implements the small set of raster operations the motion
// detector runs on grayscale frames: colour conversion, nearest-neighbour
// resize, box blur, absolute difference, binary threshold and dilation.
// Everything works on tightly packed buffers and allocates its output.
package vision

import (
	"fmt"

	"github.com/alexeybutyrev/cv2pipeline/internal/frame"
)

// ToGray converts a BGR frame to single-channel luminance using the BT.601
// integer weights. Gray input is deep-copied.
func ToGray(src frame.Frame) frame.Frame {
	if src.Format == frame.FormatGray {
		out := src.Clone()
		return out
	}
	out := frame.New(src.Width, src.Height, frame.FormatGray)
	out.Seq = src.Seq
	out.Timestamp = src.Timestamp
	for y := 0; y < src.Height; y++ {
		srow := src.Pix[y*src.Stride:]
		drow := out.Pix[y*out.Stride:]
		for x := 0; x < src.Width; x++ {
			b := uint32(srow[x*3])
			g := uint32(srow[x*3+1])
			r := uint32(srow[x*3+2])
			// y = 0.299r + 0.587g + 0.114b, in 1/256 fixed point
			drow[x] = byte((77*r + 150*g + 29*b) >> 8)
		}
	}
	return out
}

// Resize scales the frame by the given factor with nearest-neighbour
// sampling. Factors at or above 1 return a deep copy.
func Resize(src frame.Frame, scale float64) frame.Frame {
	if scale >= 1 || scale <= 0 {
		return src.Clone()
	}
	w := int(float64(src.Width)*scale + 0.5)
	if w < 1 {
		w = 1
	}
	h := int(float64(src.Height)*scale + 0.5)
	if h < 1 {
		h = 1
	}
	bpp := src.Format.BytesPerPixel()
	out := frame.New(w, h, src.Format)
	out.Seq = src.Seq
	out.Timestamp = src.Timestamp
	for y := 0; y < h; y++ {
		sy := y * src.Height / h
		srow := src.Pix[sy*src.Stride:]
		drow := out.Pix[y*out.Stride:]
		for x := 0; x < w; x++ {
			sx := x * src.Width / w
			copy(drow[x*bpp:(x+1)*bpp], srow[sx*bpp:(sx+1)*bpp])
		}
	}
	return out
}

// AbsDiff returns the per-pixel absolute difference of two gray frames of
// identical dimensions.
func AbsDiff(a, b frame.Frame) (frame.Frame, error) {
	if a.Format != frame.FormatGray || b.Format != frame.FormatGray {
		return frame.Frame{}, fmt.Errorf("absdiff requires gray frames, got %q and %q", a.Format, b.Format)
	}
	if a.Width != b.Width || a.Height != b.Height {
		return frame.Frame{}, fmt.Errorf("absdiff dimension mismatch: %dx%d vs %dx%d", a.Width, a.Height, b.Width, b.Height)
	}
	out := frame.New(a.Width, a.Height, frame.FormatGray)
	out.Seq = a.Seq
	out.Timestamp = a.Timestamp
	for y := 0; y < a.Height; y++ {
		arow := a.Pix[y*a.Stride : y*a.Stride+a.Width]
		brow := b.Pix[y*b.Stride : y*b.Stride+b.Width]
		drow := out.Pix[y*out.Stride:]
		for x := range arow {
			d := int(arow[x]) - int(brow[x])
			if d < 0 {
				d = -d
			}
			drow[x] = byte(d)
		}
	}
	return out, nil
}

// Threshold maps every pixel strictly above thresh to 255 and the rest to 0.
func Threshold(src frame.Frame, thresh byte) frame.Frame {
	out := frame.New(src.Width, src.Height, frame.FormatGray)
	out.Seq = src.Seq
	out.Timestamp = src.Timestamp
	for y := 0; y < src.Height; y++ {
		srow := src.Pix[y*src.Stride : y*src.Stride+src.Width]
		drow := out.Pix[y*out.Stride:]
		for x, v := range srow {
			if v > thresh {
				drow[x] = 255
			}
		}
	}
	return out
}

// BoxBlur smooths a gray frame with a square window of the given radius,
// run as two separable passes with a sliding sum. Radius 0 is a copy.
func BoxBlur(src frame.Frame, radius int) frame.Frame {
	if radius <= 0 {
		return src.Clone()
	}
	w, h := src.Width, src.Height
	tmp := make([]uint16, w*h)

	// Horizontal pass with clamped edges.
	for y := 0; y < h; y++ {
		srow := src.Pix[y*src.Stride : y*src.Stride+w]
		var sum int
		for x := -radius; x <= radius; x++ {
			sum += int(srow[clamp(x, w)])
		}
		n := 2*radius + 1
		for x := 0; x < w; x++ {
			tmp[y*w+x] = uint16(sum / n)
			sum += int(srow[clamp(x+radius+1, w)]) - int(srow[clamp(x-radius, w)])
		}
	}

	out := frame.New(w, h, frame.FormatGray)
	out.Seq = src.Seq
	out.Timestamp = src.Timestamp

	// Vertical pass.
	for x := 0; x < w; x++ {
		var sum int
		for y := -radius; y <= radius; y++ {
			sum += int(tmp[clamp(y, h)*w+x])
		}
		n := 2*radius + 1
		for y := 0; y < h; y++ {
			out.Pix[y*out.Stride+x] = byte(sum / n)
			sum += int(tmp[clamp(y+radius+1, h)*w+x]) - int(tmp[clamp(y-radius, h)*w+x])
		}
	}
	return out
}

// Dilate grows the white regions of a binary mask by a square structuring
// element of the given radius, again as two separable max passes.
func Dilate(src frame.Frame, radius int) frame.Frame {
	if radius <= 0 {
		return src.Clone()
	}
	w, h := src.Width, src.Height
	tmp := make([]byte, w*h)

	for y := 0; y < h; y++ {
		srow := src.Pix[y*src.Stride : y*src.Stride+w]
		for x := 0; x < w; x++ {
			var v byte
			for k := x - radius; k <= x+radius; k++ {
				if k >= 0 && k < w && srow[k] > v {
					v = srow[k]
					if v == 255 {
						break
					}
				}
			}
			tmp[y*w+x] = v
		}
	}

	out := frame.New(w, h, frame.FormatGray)
	out.Seq = src.Seq
	out.Timestamp = src.Timestamp
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			var v byte
			for k := y - radius; k <= y+radius; k++ {
				if k >= 0 && k < h && tmp[k*w+x] > v {
					v = tmp[k*w+x]
					if v == 255 {
						break
					}
				}
			}
			out.Pix[y*out.Stride+x] = v
		}
	}
	return out
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
