// SPDX-License-Identifier: MIT

package detect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/gowebpki/jcs"

	"github.com/alexeybutyrev/cv2pipeline/internal/frame"
	"github.com/alexeybutyrev/cv2pipeline/internal/metrics"
)

// RecordingVersion is the on-disk format version this build reads and writes.
const RecordingVersion = 1

// RecordedEvent is one replayable detection result, keyed by the frame
// sequence number it was originally observed at.
type RecordedEvent struct {
	Seq        uint64      `json:"seq"`
	Detections []Detection `json:"detections"`
}

// Recording is a replayable set of detection results, used to exercise the
// full pipeline without an inference backend. The digest covers the JCS
// canonicalisation of the document with the digest field removed.
type Recording struct {
	Version  int             `json:"version"`
	Pipeline string          `json:"pipeline,omitempty"`
	Length   uint64          `json:"length,omitempty"` // total frames in the source clip
	Digest   string          `json:"digest,omitempty"` // "sha256:<hex>"
	Events   []RecordedEvent `json:"events"`
}

func computeDigest(rec Recording) (string, error) {
	rec.Digest = ""
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalise recording: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// LoadRecording reads and validates a recording file. A present digest is
// verified; a missing digest is accepted.
func LoadRecording(path string) (*Recording, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	var rec Recording
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("parse recording: %w", err)
	}
	if rec.Version != RecordingVersion {
		return nil, fmt.Errorf("unsupported recording version %d", rec.Version)
	}
	if rec.Digest != "" {
		if !strings.HasPrefix(rec.Digest, "sha256:") {
			return nil, fmt.Errorf("unsupported digest scheme in %q", rec.Digest)
		}
		want, err := computeDigest(rec)
		if err != nil {
			return nil, err
		}
		if want != rec.Digest {
			return nil, fmt.Errorf("recording digest mismatch: file claims %s", rec.Digest)
		}
	}
	sort.Slice(rec.Events, func(i, j int) bool { return rec.Events[i].Seq < rec.Events[j].Seq })
	return &rec, nil
}

// WriteRecording computes the digest and writes the recording atomically.
func WriteRecording(path string, rec Recording) error {
	rec.Version = RecordingVersion
	sort.Slice(rec.Events, func(i, j int) bool { return rec.Events[i].Seq < rec.Events[j].Seq })
	digest, err := computeDigest(rec)
	if err != nil {
		return err
	}
	rec.Digest = digest
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, append(raw, '\n'), 0o644)
}

// Canned replays recorded detections when the frame cursor reaches their
// sequence numbers. With Loop enabled the recording repeats with its period
// once the cursor passes the end, so long-running pipelines can soak on a
// short clip.
type Canned struct {
	pipelineID string
	events     []RecordedEvent
	period     uint64
	loop       bool
	idx        int
	lap        uint64
}

// NewCanned creates a replay detector from a loaded recording.
func NewCanned(pipelineID string, rec *Recording, loop bool) *Canned {
	period := rec.Length
	if period == 0 {
		for _, ev := range rec.Events {
			if ev.Seq > period {
				period = ev.Seq
			}
		}
	}
	return &Canned{pipelineID: pipelineID, events: rec.Events, period: period, loop: loop}
}

// Name implements Processor.
func (c *Canned) Name() string { return "canned" }

// Process implements Processor.
func (c *Canned) Process(ctx context.Context, f frame.Frame) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(c.events) == 0 || f.Seq == 0 {
		return nil, nil
	}

	if c.idx >= len(c.events) {
		if !c.loop || c.period == 0 {
			return nil, nil
		}
		c.idx = 0
		c.lap += c.period
		metrics.IncCannedReplay(c.pipelineID)
	}

	target := c.events[c.idx].Seq + c.lap
	if f.Seq < target {
		return nil, nil
	}

	// Emit the newest due entry and drop any older ones the watcher skipped
	// past while catching up.
	var due []Detection
	for c.idx < len(c.events) && c.events[c.idx].Seq+c.lap <= f.Seq {
		due = c.events[c.idx].Detections
		c.idx++
	}

	out := make([]Detection, len(due))
	for i, d := range due {
		out[i] = d.Centered(f.Width, f.Height)
	}
	return out, nil
}
