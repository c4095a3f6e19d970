// SPDX-License-Identifier: MIT

package detect

import (
	"context"

	"github.com/alexeybutyrev/cv2pipeline/internal/frame"
	"github.com/alexeybutyrev/cv2pipeline/internal/vision"
)

// MotionConfig tunes the background-subtraction detector. Zero values fall
// back to the stock defaults.
type MotionConfig struct {
	// ScaleFactor shrinks frames before analysis. 0.5 quarters the pixel
	// count at negligible recall cost.
	ScaleFactor float64 `json:"scale_factor" yaml:"scale_factor"`
	// Threshold is the minimum per-pixel delta, as a fraction of full
	// brightness, that counts as change.
	Threshold float64 `json:"threshold" yaml:"threshold"`
	// MinArea is the minimum changed area in full-resolution pixels.
	MinArea int `json:"min_area" yaml:"min_area"`
	// Memory is the background blend weight per frame. Higher values adapt
	// faster and forget slow-moving objects sooner.
	Memory float64 `json:"memory" yaml:"memory"`
	// BlurRadius smooths sensor noise before differencing.
	BlurRadius int `json:"blur_radius" yaml:"blur_radius"`
	// DilateRadius merges fragmented change regions.
	DilateRadius int `json:"dilate_radius" yaml:"dilate_radius"`
	// FullFrame reports a single detection spanning the whole frame instead
	// of per-region boxes, for downstream consumers that only gate on
	// "something moved".
	FullFrame bool `json:"full_frame" yaml:"full_frame"`
}

func (c MotionConfig) withDefaults() MotionConfig {
	if c.ScaleFactor <= 0 || c.ScaleFactor > 1 {
		c.ScaleFactor = 0.5
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.04
	}
	if c.MinArea <= 0 {
		c.MinArea = 1600
	}
	if c.Memory <= 0 || c.Memory > 1 {
		c.Memory = 0.1
	}
	if c.BlurRadius <= 0 {
		c.BlurRadius = 5
	}
	if c.DilateRadius <= 0 {
		c.DilateRadius = 9
	}
	return c
}

// Motion finds moving regions by differencing each frame against a running
// background model. The first processed frame seeds the model and yields no
// detections.
type Motion struct {
	cfg MotionConfig
	bg  *vision.Background
}

// NewMotion creates a motion detector with defaults applied.
func NewMotion(cfg MotionConfig) *Motion {
	return &Motion{cfg: cfg.withDefaults(), bg: vision.NewBackground()}
}

// Name implements Processor.
func (m *Motion) Name() string { return "motion" }

// Process implements Processor.
func (m *Motion) Process(ctx context.Context, f frame.Frame) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	scaled := vision.Resize(f, m.cfg.ScaleFactor)
	gray := vision.ToGray(scaled)
	blurred := vision.BoxBlur(gray, m.cfg.BlurRadius)

	if !m.bg.Seeded() {
		m.bg.Update(blurred, m.cfg.Memory)
		// Model was just seeded, nothing to compare against yet.
		return nil, nil
	}

	// Diff against the model first; blending the current frame in before
	// the comparison would attenuate every delta by the memory weight.
	delta := m.bg.Delta(blurred)
	m.bg.Update(blurred, m.cfg.Memory)
	mask := vision.Threshold(delta, byte(m.cfg.Threshold*255))
	mask = vision.Dilate(mask, m.cfg.DilateRadius)

	// MinArea is configured in full-resolution pixels; regions are found on
	// the scaled mask.
	minScaled := int(float64(m.cfg.MinArea) * m.cfg.ScaleFactor * m.cfg.ScaleFactor)
	if minScaled < 1 {
		minScaled = 1
	}
	regions := vision.FindRegions(mask, minScaled)
	if len(regions) == 0 {
		return nil, nil
	}

	if m.cfg.FullFrame {
		d := Detection{
			Class: "motion",
			Score: 1,
			Box:   Rect{X: 0, Y: 0, W: f.Width, H: f.Height},
		}
		return []Detection{d.Centered(f.Width, f.Height)}, nil
	}

	inv := 1 / m.cfg.ScaleFactor
	detections := make([]Detection, 0, len(regions))
	for _, reg := range regions {
		r := reg.Rect
		box := Rect{
			X: int(float64(r.Min.X) * inv),
			Y: int(float64(r.Min.Y) * inv),
			W: int(float64(r.Dx()) * inv),
			H: int(float64(r.Dy()) * inv),
		}
		d := Detection{Class: "motion", Score: 1, Box: box}
		detections = append(detections, d.Centered(f.Width, f.Height))
	}
	return detections, nil
}

// Reset discards the background model, forcing a reseed on the next frame.
func (m *Motion) Reset() {
	m.bg = vision.NewBackground()
}
