// SPDX-License-Identifier: MIT

package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewRunRecord(t *testing.T) {
	rec := NewRunRecord("dock", "rtsp://cam/live")
	assert.NotEmpty(t, rec.RunID)
	assert.NotEmpty(t, rec.Name)
	assert.Equal(t, "dock", rec.PipelineID)
	assert.Equal(t, "starting", rec.State)
	assert.False(t, rec.StartedAt.IsZero())
}

func TestPutGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	rec := NewRunRecord("dock", "rtsp://cam/live")
	require.NoError(t, s.PutRun(ctx, rec))

	got, err := s.GetRun(ctx, rec.RunID)
	require.NoError(t, err)
	assert.Equal(t, rec.RunID, got.RunID)
	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, "rtsp://cam/live", got.Source)
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(t.Context(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCurrentRunFollowsLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	first := NewRunRecord("dock", "a.mp4")
	require.NoError(t, s.PutRun(ctx, first))
	second := NewRunRecord("dock", "b.mp4")
	require.NoError(t, s.PutRun(ctx, second))

	cur, err := s.CurrentRun(ctx, "dock")
	require.NoError(t, err)
	assert.Equal(t, second.RunID, cur.RunID)

	_, err = s.CurrentRun(ctx, "gate")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRun(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	rec := NewRunRecord("dock", "a.mp4")
	require.NoError(t, s.PutRun(ctx, rec))

	updated, err := s.UpdateRun(ctx, rec.RunID, func(r *RunRecord) error {
		r.State = "stopped"
		r.EndedAt = time.Now().UTC()
		r.EventCount = 12
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "stopped", updated.State)
	assert.Equal(t, uint64(12), updated.EventCount)

	got, err := s.GetRun(ctx, rec.RunID)
	require.NoError(t, err)
	assert.Equal(t, "stopped", got.State)
	assert.False(t, got.EndedAt.IsZero())
}

func TestUpdateRunErrorAborts(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	rec := NewRunRecord("dock", "a.mp4")
	require.NoError(t, s.PutRun(ctx, rec))

	_, err := s.UpdateRun(ctx, rec.RunID, func(r *RunRecord) error {
		r.State = "broken"
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err := s.GetRun(ctx, rec.RunID)
	require.NoError(t, err)
	assert.Equal(t, "starting", got.State, "failed update must not persist")
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.PutRun(ctx, NewRunRecord("dock", "a.mp4")))
	require.NoError(t, s.PutRun(ctx, NewRunRecord("gate", "b.mp4")))

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
