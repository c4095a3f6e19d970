// SPDX-License-Identifier: MIT

// Package capture persists detection evidence: the triggering frame, its
// annotated sibling, and the event record, written atomically so a watcher
// crash never leaves torn files for the offloader to pick up.
package capture

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/renameio/v2"

	"github.com/alexeybutyrev/cv2pipeline/internal/detect"
	"github.com/alexeybutyrev/cv2pipeline/internal/frame"
	"github.com/alexeybutyrev/cv2pipeline/internal/fsutil"
	"github.com/alexeybutyrev/cv2pipeline/internal/log"
	"github.com/alexeybutyrev/cv2pipeline/internal/metrics"
)

// SaverConfig configures one pipeline's evidence directory.
type SaverConfig struct {
	Dir         string
	PipelineID  string
	JPEGQuality int
	// KeepRaw also writes the unannotated source frame next to the
	// annotated one.
	KeepRaw bool
}

// Artifacts lists the files written for one event. FramePath is empty
// unless KeepRaw is set; AnnotatedPath is empty when no annotated frame
// was supplied.
type Artifacts struct {
	FramePath     string `json:"frame_path,omitempty"`
	AnnotatedPath string `json:"annotated_path,omitempty"`
	EventPath     string `json:"event_path"`
}

// Saver writes evidence files for detection events.
type Saver struct {
	dir     string
	quality int
	id      string
	keepRaw bool
}

// NewSaver ensures the evidence directory exists and returns a saver
// confined to it.
func NewSaver(cfg SaverConfig) (*Saver, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("capture: missing evidence dir")
	}
	if cfg.PipelineID == "" {
		return nil, fmt.Errorf("capture: missing pipeline id")
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = frame.DefaultJPEGQuality
	}
	// #nosec G301 -- evidence dirs are operator-readable
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("capture: create evidence dir: %w", err)
	}
	return &Saver{dir: cfg.Dir, quality: cfg.JPEGQuality, id: cfg.PipelineID, keepRaw: cfg.KeepRaw}, nil
}

// Dir returns the evidence directory root.
func (s *Saver) Dir() string { return s.dir }

// Save writes the annotated frame, the event record, and the raw frame
// when KeepRaw is set. Each file lands under its final name only when
// complete.
func (s *Saver) Save(ev detect.Event, raw, annotated frame.Frame) (Artifacts, error) {
	var out Artifacts

	if s.keepRaw {
		framePath, err := s.writeJPEG(fmt.Sprintf("frame_%06d.jpeg", ev.Seq), raw, "frame")
		if err != nil {
			return out, err
		}
		out.FramePath = framePath
	}

	if !annotated.Empty() {
		bbPath, err := s.writeJPEG(fmt.Sprintf("frame_%06d.bb.jpeg", ev.Seq), annotated, "annotated")
		if err != nil {
			return out, err
		}
		out.AnnotatedPath = bbPath
	}

	eventPath, err := s.confine(fmt.Sprintf("frame_%06d.json", ev.Seq))
	if err != nil {
		metrics.IncCaptureWrite("event", "error")
		return out, err
	}
	record := struct {
		detect.Event
		Artifacts Artifacts `json:"artifacts"`
	}{Event: ev, Artifacts: Artifacts{FramePath: out.FramePath, AnnotatedPath: out.AnnotatedPath}}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		metrics.IncCaptureWrite("event", "error")
		return out, fmt.Errorf("capture: marshal event: %w", err)
	}
	if err := renameio.WriteFile(eventPath, data, 0o644); err != nil {
		metrics.IncCaptureWrite("event", "error")
		return out, fmt.Errorf("capture: write event record: %w", err)
	}
	metrics.IncCaptureWrite("event", "ok")
	out.EventPath = eventPath

	logger := log.WithComponent("capture")
	logger.Debug().
		Str(log.FieldPipelineID, s.id).
		Str(log.FieldEvent, "capture.saved").
		Uint64(log.FieldSeq, ev.Seq).
		Str("path", out.EventPath).
		Msg("evidence written")
	return out, nil
}

func (s *Saver) confine(name string) (string, error) {
	path, err := fsutil.ConfineRelPath(s.dir, name)
	if err != nil {
		return "", fmt.Errorf("capture: %w", err)
	}
	return path, nil
}

func (s *Saver) writeJPEG(name string, f frame.Frame, kind string) (string, error) {
	path, err := s.confine(name)
	if err != nil {
		metrics.IncCaptureWrite(kind, "error")
		return "", err
	}
	data, err := frame.EncodeJPEG(f, s.quality)
	if err != nil {
		metrics.IncCaptureWrite(kind, "error")
		return "", fmt.Errorf("capture: encode %s: %w", kind, err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		metrics.IncCaptureWrite(kind, "error")
		return "", fmt.Errorf("capture: write %s: %w", kind, err)
	}
	metrics.IncCaptureWrite(kind, "ok")
	return path, nil
}
