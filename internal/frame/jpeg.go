// SPDX-License-Identifier: MIT

package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// DefaultJPEGQuality is used whenever a caller passes a non-positive quality.
const DefaultJPEGQuality = 85

// EncodeJPEG renders the frame as JPEG bytes. BGR frames are converted to
// RGBA, gray frames encode directly.
func EncodeJPEG(f Frame, quality int) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}

	var img image.Image
	switch f.Format {
	case FormatGray:
		g := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
		for y := 0; y < f.Height; y++ {
			copy(g.Pix[y*g.Stride:y*g.Stride+f.Width], f.Pix[y*f.Stride:y*f.Stride+f.Width])
		}
		img = g
	case FormatBGR:
		rgba := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
		for y := 0; y < f.Height; y++ {
			srow := f.Pix[y*f.Stride:]
			drow := rgba.Pix[y*rgba.Stride:]
			for x := 0; x < f.Width; x++ {
				drow[x*4] = srow[x*3+2]   // R
				drow[x*4+1] = srow[x*3+1] // G
				drow[x*4+2] = srow[x*3]   // B
				drow[x*4+3] = 255
			}
		}
		img = rgba
	default:
		return nil, fmt.Errorf("unsupported pixel format: %q", f.Format)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
