// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alexeybutyrev/cv2pipeline/internal/config"
	"github.com/alexeybutyrev/cv2pipeline/internal/log"
	"github.com/alexeybutyrev/cv2pipeline/internal/state"
	"github.com/alexeybutyrev/cv2pipeline/internal/track"
)

// TrackView is a live track tagged with its pipeline for API responses.
type TrackView struct {
	track.Track
	PipelineID string `json:"pipeline_id"`
}

var (
	// ErrUnknownPipeline means the id is not in the configuration.
	ErrUnknownPipeline = errors.New("unknown pipeline")
	// ErrAlreadyRunning means a start raced an existing run.
	ErrAlreadyRunning = errors.New("pipeline already running")
	// ErrNotRunning means a stop found nothing to stop.
	ErrNotRunning = errors.New("pipeline not running")
)

// Manager owns pipeline lifecycles. Starts and stops are idempotent per the
// errors above; runs survive the request contexts that trigger them.
type Manager struct {
	baseCtx context.Context
	sinks   Sinks
	runs    *state.Store

	mu      sync.Mutex
	cfg     config.AppConfig
	running map[string]*run
}

// run is one live pipeline plus its teardown handle.
type run struct {
	pipeline *Pipeline
	record   *state.RunRecord
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewManager creates a manager. baseCtx bounds the lifetime of every run it
// starts; cancel it to tear the world down.
func NewManager(baseCtx context.Context, cfg config.AppConfig, sinks Sinks, runs *state.Store) *Manager {
	return &Manager{
		baseCtx: baseCtx,
		cfg:     cfg,
		sinks:   sinks,
		runs:    runs,
		running: make(map[string]*run),
	}
}

// SetConfig swaps the configuration used for future starts. Running
// pipelines keep the config they started with.
func (m *Manager) SetConfig(cfg config.AppConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// Start launches the pipeline with the given id.
func (m *Manager) Start(ctx context.Context, id string) (*state.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.running[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}

	plCfg, ok := m.cfg.Pipeline(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPipeline, id)
	}

	p, err := New(plCfg, m.cfg.FFmpeg, m.sinks)
	if err != nil {
		return nil, fmt.Errorf("build pipeline %s: %w", id, err)
	}

	rec := state.NewRunRecord(id, sourceLabel(plCfg.Source))
	if m.runs != nil {
		if err := m.runs.PutRun(ctx, rec); err != nil {
			return nil, fmt.Errorf("persist run record: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(m.baseCtx)
	r := &run{pipeline: p, record: rec, cancel: cancel, done: make(chan struct{})}
	m.running[id] = r

	go m.drive(runCtx, r)

	return rec, nil
}

// drive runs one pipeline to completion and settles its run record.
func (m *Manager) drive(ctx context.Context, r *run) {
	defer close(r.done)

	id := r.pipeline.ID()
	logger := log.WithComponent("manager").With().
		Str(log.FieldPipelineID, id).
		Str(log.FieldRunID, r.record.Name).
		Logger()
	ctx = logger.WithContext(ctx)

	m.updateRecord(ctx, r, func(rec *state.RunRecord) {
		rec.State = string(StateRunning)
	})

	err := r.pipeline.Run(ctx)

	m.mu.Lock()
	delete(m.running, id)
	m.mu.Unlock()

	status := r.pipeline.Status()
	m.updateRecord(context.WithoutCancel(ctx), r, func(rec *state.RunRecord) {
		rec.EndedAt = time.Now()
		rec.FramesIngested = status.Watcher.Processed
		rec.EventCount = status.Events
		rec.HazardCount = status.Hazards
		rec.LastSeq = status.Watcher.LastSeq
		if err != nil {
			rec.State = string(StateFailed)
			rec.Error = err.Error()
		} else {
			rec.State = string(StateStopped)
		}
	})
}

func (m *Manager) updateRecord(ctx context.Context, r *run, fn func(*state.RunRecord)) {
	if m.runs == nil {
		fn(r.record)
		return
	}
	rec, err := m.runs.UpdateRun(ctx, r.record.RunID, func(rec *state.RunRecord) error {
		fn(rec)
		return nil
	})
	if err != nil {
		logger := log.WithComponent("manager")
		logger.Error().Err(err).
			Str(log.FieldEvent, "manager.record_error").
			Str(log.FieldPipelineID, r.pipeline.ID()).
			Msg("failed to update run record")
		fn(r.record)
		return
	}
	r.record = rec
}

// Stop cancels a running pipeline and waits for it to wind down, bounded by
// ctx.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	r, ok := m.running[id]
	m.mu.Unlock()

	if !ok {
		if _, known := m.cfg.Pipeline(id); !known {
			return fmt.Errorf("%w: %s", ErrUnknownPipeline, id)
		}
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}

	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop %s: %w", id, ctx.Err())
	}
}

// StopAll cancels every running pipeline and waits for all of them.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	runs := make([]*run, 0, len(m.running))
	for _, r := range m.running {
		r.cancel()
		runs = append(runs, r)
	}
	m.mu.Unlock()

	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Autostart launches every pipeline flagged for it. Individual failures are
// logged, not fatal.
func (m *Manager) Autostart(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0)
	for _, pl := range m.cfg.Pipelines {
		if pl.Autostart {
			ids = append(ids, pl.ID)
		}
	}
	m.mu.Unlock()

	logger := log.WithComponent("manager")
	for _, id := range ids {
		if _, err := m.Start(ctx, id); err != nil {
			logger.Error().Err(err).
				Str(log.FieldEvent, "manager.autostart_error").
				Str(log.FieldPipelineID, id).
				Msg("autostart failed")
		}
	}
}

// Status reports one pipeline, running or not.
func (m *Manager) Status(id string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.running[id]; ok {
		return r.pipeline.Status(), nil
	}
	if cfg, ok := m.cfg.Pipeline(id); ok {
		return Status{ID: cfg.ID, State: StateStopped, Source: cfg.Source.Type}, nil
	}
	return Status{}, fmt.Errorf("%w: %s", ErrUnknownPipeline, id)
}

// List reports every configured pipeline, sorted by id.
func (m *Manager) List() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.cfg.Pipelines))
	seen := make(map[string]bool, len(m.cfg.Pipelines))
	for _, pl := range m.cfg.Pipelines {
		seen[pl.ID] = true
		if r, ok := m.running[pl.ID]; ok {
			out = append(out, r.pipeline.Status())
		} else {
			out = append(out, Status{ID: pl.ID, State: StateStopped, Source: pl.Source.Type})
		}
	}
	// Runs whose pipeline was dropped by a config reload keep reporting
	// until they stop.
	for id, r := range m.running {
		if !seen[id] {
			out = append(out, r.pipeline.Status())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Tracks returns the live track snapshot for a running pipeline.
func (m *Manager) Tracks(id string) ([]TrackView, error) {
	m.mu.Lock()
	r, ok := m.running[id]
	m.mu.Unlock()

	if !ok {
		if _, known := m.cfg.Pipeline(id); known {
			return nil, fmt.Errorf("%w: %s", ErrNotRunning, id)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownPipeline, id)
	}

	snapshot := r.pipeline.tracker.Snapshot()
	views := make([]TrackView, len(snapshot))
	for i, tr := range snapshot {
		views[i] = TrackView{Track: tr, PipelineID: id}
	}
	return views, nil
}

// LastActivity reports the most recent frame timestamp across running
// pipelines, and whether anything is running at all. Health checks use it
// to spot stalled ingest.
func (m *Manager) LastActivity() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var last time.Time
	for _, r := range m.running {
		if t := r.pipeline.LastFrame(); t.After(last) {
			last = t
		}
	}
	return last, len(m.running) > 0
}

func sourceLabel(s config.SourceConfig) string {
	if s.URL == "" {
		return s.Type
	}
	return s.Type + ":" + s.URL
}
