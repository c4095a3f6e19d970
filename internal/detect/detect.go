// SPDX-License-Identifier: MIT

// Package detect defines the detection event model and the watcher loop
// that drives detectors over the shared frame ring. Detectors implement
// Processor; the watcher handles pacing, catch-up skips, heartbeats and
// event assembly.
package detect

import (
	"image"
	"time"

	"github.com/google/uuid"

	"github.com/alexeybutyrev/cv2pipeline/internal/frame"
)

// Kind classifies a pipeline event.
type Kind string

const (
	// KindDetection carries one or more object detections for a frame.
	KindDetection Kind = "detection"
	// KindHazard flags a dangerous proximity between tracked objects.
	KindHazard Kind = "hazard"
	// KindHeartbeat is a periodic liveness event with throughput stats.
	KindHeartbeat Kind = "heartbeat"
)

// Rect is a pixel-space bounding box.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// RectFromImage converts a stdlib rectangle.
func RectFromImage(r image.Rectangle) Rect {
	r = r.Canon()
	return Rect{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// ToImage converts back to a stdlib rectangle.
func (r Rect) ToImage() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Point is a position normalised to [0,1] in frame coordinates, so distance
// thresholds stay resolution independent.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Detection is one object found in a frame.
type Detection struct {
	Class  string  `json:"class"`
	Score  float64 `json:"score"`
	Box    Rect    `json:"box"`
	Center Point   `json:"center"`
}

// Centered fills the normalised center of the detection from its box and
// the frame dimensions.
func (d Detection) Centered(width, height int) Detection {
	if width > 0 && height > 0 {
		d.Center = Point{
			X: (float64(d.Box.X) + float64(d.Box.W)/2) / float64(width),
			Y: (float64(d.Box.Y) + float64(d.Box.H)/2) / float64(height),
		}
	}
	return d
}

// Event is the unit published to the bus, persisted to the event store and
// served over the API. Its timestamp is always the source frame's capture
// time, never the processing time.
type Event struct {
	ID         string            `json:"id"`
	PipelineID string            `json:"pipeline_id"`
	Detector   string            `json:"detector"`
	Kind       Kind              `json:"kind"`
	Seq        uint64            `json:"seq"`
	Timestamp  time.Time         `json:"timestamp"`
	Detections []Detection       `json:"detections,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// NewEvent assembles an event for the given frame.
func NewEvent(pipelineID, detector string, kind Kind, f frame.Frame, detections []Detection) Event {
	return Event{
		ID:         uuid.NewString(),
		PipelineID: pipelineID,
		Detector:   detector,
		Kind:       kind,
		Seq:        f.Seq,
		Timestamp:  f.Timestamp,
		Detections: detections,
	}
}
