// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexeybutyrev/cv2pipeline/internal/config"
	"github.com/alexeybutyrev/cv2pipeline/internal/state"
)

func newTestManager(t *testing.T, ids ...string) (*Manager, *state.Store) {
	t.Helper()

	cfg := config.Defaults()
	for _, id := range ids {
		pl := testPipelineConfig(id)
		cfg.Pipelines = append(cfg.Pipelines, pl)
	}

	runs, err := state.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = runs.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	m := NewManager(ctx, cfg, Sinks{}, runs)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = m.StopAll(stopCtx)
	})
	return m, runs
}

func TestManager_StartStop(t *testing.T) {
	m, runs := newTestManager(t, "dock")

	rec, err := m.Start(context.Background(), "dock")
	require.NoError(t, err)
	assert.Equal(t, "dock", rec.PipelineID)
	assert.NotEmpty(t, rec.RunID)
	assert.NotEmpty(t, rec.Name)

	// Second start races the live run.
	_, err = m.Start(context.Background(), "dock")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.Eventually(t, func() bool {
		s, serr := m.Status("dock")
		return serr == nil && s.State == StateRunning
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(stopCtx, "dock"))

	s, err := m.Status("dock")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, s.State)

	// The run record settles with final counters.
	final, err := runs.CurrentRun(context.Background(), "dock")
	require.NoError(t, err)
	assert.Equal(t, string(StateStopped), final.State)
	assert.False(t, final.EndedAt.IsZero())
}

func TestManager_StopNotRunning(t *testing.T) {
	m, _ := newTestManager(t, "dock")

	err := m.Stop(context.Background(), "dock")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestManager_UnknownPipeline(t *testing.T) {
	m, _ := newTestManager(t, "dock")

	_, err := m.Start(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownPipeline)

	err = m.Stop(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownPipeline)

	_, err = m.Status("ghost")
	assert.ErrorIs(t, err, ErrUnknownPipeline)

	_, err = m.Tracks("ghost")
	assert.ErrorIs(t, err, ErrUnknownPipeline)
}

func TestManager_List(t *testing.T) {
	m, _ := newTestManager(t, "yard", "dock")

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "dock", list[0].ID, "list is sorted by id")
	assert.Equal(t, "yard", list[1].ID)
	assert.Equal(t, StateStopped, list[0].State)

	_, err := m.Start(context.Background(), "dock")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, s := range m.List() {
			if s.ID == "dock" && s.State == StateRunning {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_Autostart(t *testing.T) {
	cfg := config.Defaults()
	auto := testPipelineConfig("auto")
	auto.Autostart = true
	manual := testPipelineConfig("manual")
	cfg.Pipelines = append(cfg.Pipelines, auto, manual)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManager(ctx, cfg, Sinks{}, nil)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = m.StopAll(stopCtx)
	}()

	m.Autostart(context.Background())

	require.Eventually(t, func() bool {
		s, err := m.Status("auto")
		return err == nil && s.State == StateRunning
	}, 2*time.Second, 10*time.Millisecond)

	s, err := m.Status("manual")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, s.State)
}

func TestManager_LastActivity(t *testing.T) {
	m, _ := newTestManager(t, "dock")

	_, running := m.LastActivity()
	assert.False(t, running)

	_, err := m.Start(context.Background(), "dock")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		last, running := m.LastActivity()
		return running && !last.IsZero()
	}, 2*time.Second, 10*time.Millisecond)
}
