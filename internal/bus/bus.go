// SPDX-License-Identifier: MIT

// Package bus is the in-process pub/sub fabric between detector watchers and
// the event sinks (store writer, websocket feed, hazard logger). Delivery is
// at-least-once in-process while the publish context is live; slow
// subscribers cause drops, never backpressure into the frame path.
package bus

import (
	"context"
	"time"

	"github.com/alexeybutyrev/cv2pipeline/internal/detect"
	"github.com/alexeybutyrev/cv2pipeline/internal/track"
)

// TopicEvents returns the per-pipeline detection/heartbeat topic.
func TopicEvents(pipelineID string) string {
	return "events." + pipelineID
}

// TopicHazards is the global hazard topic.
const TopicHazards = "hazards"

// Message is the envelope published on every topic. Exactly one of Event or
// Hazard is set, discriminated by Kind.
type Message struct {
	Kind       detect.Kind   `json:"kind"`
	PipelineID string        `json:"pipeline_id"`
	Timestamp  time.Time     `json:"timestamp"`
	Event      *detect.Event `json:"event,omitempty"`
	Hazard     *track.Hazard `json:"hazard,omitempty"`
}

// EventMessage wraps a detection or heartbeat event.
func EventMessage(ev detect.Event) Message {
	return Message{
		Kind:       ev.Kind,
		PipelineID: ev.PipelineID,
		Timestamp:  ev.Timestamp,
		Event:      &ev,
	}
}

// HazardMessage wraps a hazard.
func HazardMessage(pipelineID string, h track.Hazard) Message {
	return Message{
		Kind:       detect.KindHazard,
		PipelineID: pipelineID,
		Timestamp:  h.Timestamp,
		Hazard:     &h,
	}
}

// Subscriber is a live subscription. C is closed by Close; Close is
// idempotent per subscription owner.
type Subscriber interface {
	C() <-chan Message
	Close() error
}

// Bus is the pub/sub contract.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}
