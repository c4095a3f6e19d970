// SPDX-License-Identifier: MIT

// Package store persists detection events and hazards. Two backends exist:
// embedded SQLite for single-host deployments and PostgreSQL for shared
// ones. Both keep detections as JSON documents inside relational rows, so
// queries filter on the indexed columns and the payload stays schemaless.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/alexeybutyrev/cv2pipeline/internal/detect"
	"github.com/alexeybutyrev/cv2pipeline/internal/track"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// HazardRecord is a persisted hazard with its owning pipeline.
type HazardRecord struct {
	PipelineID string `json:"pipeline_id"`
	track.Hazard
}

// Store is the persistence contract shared by both backends.
type Store interface {
	InsertEvent(ctx context.Context, ev detect.Event) error
	InsertHazard(ctx context.Context, pipelineID string, hz track.Hazard) error

	// RecentEvents returns up to limit events for a pipeline, newest
	// first. An empty pipelineID spans all pipelines.
	RecentEvents(ctx context.Context, pipelineID string, limit int) ([]detect.Event, error)
	RecentHazards(ctx context.Context, pipelineID string, limit int) ([]HazardRecord, error)

	// CountByClass aggregates detection counts per object class.
	CountByClass(ctx context.Context, pipelineID string) (map[string]int64, error)

	// Prune deletes events and hazards older than the cutoff and returns
	// the number of rows removed.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

func clampLimit(limit int) int {
	const maxLimit = 1000
	if limit <= 0 {
		return 100
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
