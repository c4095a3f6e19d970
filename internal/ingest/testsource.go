// SPDX-License-Identifier: MIT

package ingest

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/alexeybutyrev/cv2pipeline/internal/frame"
	"github.com/alexeybutyrev/cv2pipeline/internal/metrics"
)

// TestSourceConfig configures the synthetic generator.
type TestSourceConfig struct {
	PipelineID string
	Ring       *frame.Ring
	Width      int
	Height     int
	Format     frame.Format

	// FPS paces frame production. 0 defaults to 15.
	FPS float64
	// FrameCount stops after the given number of frames; 0 runs until
	// cancelled.
	FrameCount int
	// SquareSize is the side length of the moving square in pixels.
	SquareSize int
	// Speed is how many pixels the square advances per frame.
	Speed int
}

// TestSource generates gray frames with a bright square bouncing across a
// dark background. The motion is deterministic per frame index, which makes
// the downstream detector output reproducible without any video files.
type TestSource struct {
	cfg   TestSourceConfig
	meter *frame.RateMeter
}

// NewTestSource validates the config and returns the generator.
func NewTestSource(cfg TestSourceConfig) (*TestSource, error) {
	if cfg.PipelineID == "" {
		return nil, fmt.Errorf("test source: missing pipeline id")
	}
	if cfg.Ring == nil {
		return nil, fmt.Errorf("test source: missing frame ring")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("test source: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if !cfg.Format.Valid() {
		cfg.Format = frame.FormatGray
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}
	if cfg.SquareSize <= 0 {
		cfg.SquareSize = cfg.Width / 8
		if cfg.SquareSize < 4 {
			cfg.SquareSize = 4
		}
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 3
	}
	return &TestSource{cfg: cfg, meter: frame.NewRateMeter(30)}, nil
}

// FPS reports the measured generation rate.
func (s *TestSource) FPS() float64 {
	return s.meter.Rate()
}

// Run produces frames until the count is reached or ctx is cancelled.
func (s *TestSource) Run(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Limit(s.cfg.FPS), 1)

	for i := 0; s.cfg.FrameCount == 0 || i < s.cfg.FrameCount; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		f := s.Generate(i)
		f.Timestamp = time.Now()
		s.cfg.Ring.Push(f)
		metrics.IncFramesIngested(s.cfg.PipelineID)
		metrics.SetIngestFPS(s.cfg.PipelineID, s.meter.Tick(f.Timestamp))
	}
	return nil
}

// Generate renders the frame for index i without pacing or ring side
// effects. Tests use it directly to obtain known pixel content.
func (s *TestSource) Generate(i int) frame.Frame {
	f := frame.New(s.cfg.Width, s.cfg.Height, s.cfg.Format)
	bpp := s.cfg.Format.BytesPerPixel()

	// Bounce the square between the horizontal edges, vertically centered
	// with a slow sine-free vertical drift derived from the same index.
	span := s.cfg.Width - s.cfg.SquareSize
	if span < 1 {
		span = 1
	}
	pos := (i * s.cfg.Speed) % (2 * span)
	x := pos
	if pos > span {
		x = 2*span - pos
	}
	vspan := s.cfg.Height - s.cfg.SquareSize
	if vspan < 1 {
		vspan = 1
	}
	y := (i * s.cfg.Speed / 2) % vspan

	for row := y; row < y+s.cfg.SquareSize && row < s.cfg.Height; row++ {
		base := row * f.Stride
		for col := x; col < x+s.cfg.SquareSize && col < s.cfg.Width; col++ {
			for b := 0; b < bpp; b++ {
				f.Pix[base+col*bpp+b] = 0xE0
			}
		}
	}
	return f
}
