// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"time"
)

const snapshotTTL = 30 * time.Second

// SnapshotKey names the latest JPEG snapshot of a pipeline.
func SnapshotKey(pipelineID string) string {
	return "snapshot:" + pipelineID
}

// Snapshots wraps a Cache with the typed accessors the API serves from.
type Snapshots struct {
	c Cache
}

// NewSnapshots wraps the given cache.
func NewSnapshots(c Cache) *Snapshots {
	return &Snapshots{c: c}
}

// PutSnapshot stores the latest annotated JPEG for a pipeline.
func (s *Snapshots) PutSnapshot(ctx context.Context, pipelineID string, jpeg []byte) {
	s.c.Set(ctx, SnapshotKey(pipelineID), jpeg, snapshotTTL)
}

// Snapshot returns the latest JPEG, or false when none is fresh.
func (s *Snapshots) Snapshot(ctx context.Context, pipelineID string) ([]byte, bool) {
	return s.c.Get(ctx, SnapshotKey(pipelineID))
}

// Stats exposes the underlying cache counters.
func (s *Snapshots) Stats() Stats {
	return s.c.Stats()
}
