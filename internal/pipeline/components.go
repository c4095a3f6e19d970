// SPDX-License-Identifier: MIT

package pipeline

import (
	"fmt"
	"image"

	"github.com/alexeybutyrev/cv2pipeline/internal/annotate"
	"github.com/alexeybutyrev/cv2pipeline/internal/capture"
	"github.com/alexeybutyrev/cv2pipeline/internal/config"
	"github.com/alexeybutyrev/cv2pipeline/internal/detect"
	"github.com/alexeybutyrev/cv2pipeline/internal/frame"
	"github.com/alexeybutyrev/cv2pipeline/internal/ingest"
	"github.com/alexeybutyrev/cv2pipeline/internal/track"
)

func parseFormat(s string) (frame.Format, error) {
	switch s {
	case "gray", "":
		return frame.FormatGray, nil
	case "bgr":
		return frame.FormatBGR, nil
	default:
		return "", fmt.Errorf("unknown frame format %q", s)
	}
}

// buildSource turns a source config into a running frame producer.
func buildSource(id, ffmpegBin string, ring *frame.Ring, cfg config.SourceConfig) (ingest.Source, error) {
	format, err := parseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "file", "stream":
		return ingest.NewFFmpegSource(ingest.FFmpegConfig{
			PipelineID: id,
			BinPath:    ffmpegBin,
			Ring:       ring,
			SkipFrames: cfg.SkipFrames,
			Input: ingest.InputSpec{
				URL:              cfg.URL,
				Width:            cfg.Width,
				Height:           cfg.Height,
				Format:           format,
				FPS:              cfg.FPS,
				Loop:             cfg.Loop,
				RealtimeThrottle: cfg.Realtime,
				HWAccel:          cfg.HWAccel,
			},
		})

	case "test":
		return ingest.NewTestSource(ingest.TestSourceConfig{
			PipelineID: id,
			Ring:       ring,
			Width:      cfg.Width,
			Height:     cfg.Height,
			Format:     format,
			FPS:        cfg.FPS,
		})

	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}

// buildProcessor turns a detector config into a frame processor.
func buildProcessor(id string, cfg config.DetectorConfig) (detect.Processor, error) {
	switch cfg.Type {
	case "motion":
		return detect.NewMotion(detect.MotionConfig{
			ScaleFactor:  cfg.ScaleFactor,
			Threshold:    cfg.Threshold,
			MinArea:      cfg.MinArea,
			Memory:       cfg.Memory,
			BlurRadius:   cfg.BlurRadius,
			DilateRadius: cfg.DilateRadius,
			FullFrame:    cfg.FullFrame,
		}), nil

	case "canned":
		rec, err := detect.LoadRecording(cfg.RecordingPath)
		if err != nil {
			return nil, fmt.Errorf("detector %q: %w", cfg.Type, err)
		}
		return detect.NewCanned(id, rec, cfg.ReplayLoop), nil

	case "remote":
		return detect.NewRemote(id, detect.RemoteConfig{
			Endpoint:            cfg.Endpoint,
			Token:               cfg.Token,
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			IgnoreClasses:       cfg.IgnoreClasses,
			Timeout:             cfg.Timeout,
		})

	default:
		return nil, fmt.Errorf("unknown detector type %q", cfg.Type)
	}
}

// buildSaver turns a capture config into an evidence saver, or nil when
// capture is disabled.
func buildSaver(id string, cfg config.CaptureConfig) (*capture.Saver, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return capture.NewSaver(capture.SaverConfig{
		Dir:         cfg.Dir,
		PipelineID:  id,
		JPEGQuality: cfg.Quality,
		KeepRaw:     cfg.KeepRaw,
	})
}

func classColor(class string, classes map[string]config.ClassConfig) annotate.Color {
	if cc, ok := classes[class]; ok {
		return annotate.Color{B: cc.Color[0], G: cc.Color[1], R: cc.Color[2]}
	}
	return annotate.Yellow
}

func classLabel(class string, classes map[string]config.ClassConfig) string {
	if cc, ok := classes[class]; ok && cc.Label != "" {
		return cc.Label
	}
	return class
}

func denormalize(p detect.Point, w, h int) image.Point {
	return image.Pt(int(p.X*float64(w)), int(p.Y*float64(h)))
}

// renderOverlay draws the status line, current tracks and hazards into f
// in place. The status line goes on every frame; hazard banners stack
// below it so they never clobber it.
func renderOverlay(f frame.Frame, tracks []track.Track, hazards []track.Hazard, classes map[string]config.ClassConfig, status string) {
	if status != "" {
		annotate.StatusLine(f, status)
	}

	for _, tr := range tracks {
		col := classColor(tr.Class, classes)
		annotate.Box(f, tr.Box.ToImage(), col, 2)
		annotate.Dot(f, denormalize(tr.Center, f.Width, f.Height), 3, col)
		annotate.Label(f, image.Pt(tr.Box.X, tr.Box.Y-4), fmt.Sprintf("%s %s", classLabel(tr.Class, classes), tr.ID), col)
	}

	for i, hz := range hazards {
		a := denormalize(hz.Tracks[0].Center, f.Width, f.Height)
		b := denormalize(hz.Tracks[1].Center, f.Width, f.Height)
		annotate.Line(f, a, b, annotate.Red)
		annotate.Label(f, image.Pt(6, 32+16*i), fmt.Sprintf("HAZARD %s dist=%.3f", hz.PairKey(), hz.Distance), annotate.Red)
	}
}
