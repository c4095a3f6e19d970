// SPDX-License-Identifier: MIT

package detect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alexeybutyrev/cv2pipeline/internal/frame"
	"github.com/alexeybutyrev/cv2pipeline/internal/log"
	"github.com/alexeybutyrev/cv2pipeline/internal/metrics"
)

// Processor inspects a single frame and returns zero or more detections.
// Implementations are driven by exactly one watcher goroutine and need not
// be safe for concurrent use.
type Processor interface {
	Name() string
	Process(ctx context.Context, f frame.Frame) ([]Detection, error)
}

const (
	defaultIdleSleep = 5 * time.Millisecond
	defaultHeartbeat = 60 * time.Second
	defaultFPSWindow = 20
)

// WatcherConfig wires a processor to a frame ring.
type WatcherConfig struct {
	PipelineID string
	Ring       *frame.Ring
	Processor  Processor
	Sink       func(Event) // receives every emitted event, must not block for long

	IdleSleep time.Duration // poll interval while no new frame is available
	Heartbeat time.Duration // interval between heartbeat events, 0 disables
	FPSWindow int           // ticks averaged for the fps estimate
}

// WatcherStats is a point-in-time snapshot of watcher throughput.
type WatcherStats struct {
	Detector  string    `json:"detector"`
	Processed uint64    `json:"processed"`
	Skipped   uint64    `json:"skipped"`
	Errors    uint64    `json:"errors"`
	LastSeq   uint64    `json:"last_seq"`
	FPS       float64   `json:"fps"`
	LastFrame time.Time `json:"last_frame"`
}

// Watcher chases the head of a frame ring and feeds frames to its processor
// as fast as it can, skipping ahead when it gets lapped. One watcher runs
// per detector per pipeline.
type Watcher struct {
	cfg WatcherConfig

	mu    sync.Mutex
	stats WatcherStats
	meter *frame.RateMeter
}

// NewWatcher validates the config and returns a ready watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Ring == nil {
		return nil, errors.New("watcher: nil ring")
	}
	if cfg.Processor == nil {
		return nil, errors.New("watcher: nil processor")
	}
	if cfg.PipelineID == "" {
		return nil, errors.New("watcher: empty pipeline id")
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = defaultIdleSleep
	}
	if cfg.Heartbeat < 0 {
		cfg.Heartbeat = 0
	} else if cfg.Heartbeat == 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	if cfg.FPSWindow <= 0 {
		cfg.FPSWindow = defaultFPSWindow
	}
	return &Watcher{
		cfg:   cfg,
		meter: frame.NewRateMeter(cfg.FPSWindow),
		stats: WatcherStats{Detector: cfg.Processor.Name()},
	}, nil
}

// Run drives the processor until ctx is cancelled. It returns ctx.Err() on
// cancellation and never stops on processor errors; those are counted and
// logged.
func (w *Watcher) Run(ctx context.Context) error {
	detector := w.cfg.Processor.Name()
	logger := log.WithComponentFromContext(ctx, "watcher")
	logger = logger.With().
		Str(log.FieldPipelineID, w.cfg.PipelineID).
		Str(log.FieldDetector, detector).
		Logger()

	logger.Info().Str(log.FieldEvent, "watcher.start").Msg("watcher started")
	defer logger.Info().Str(log.FieldEvent, "watcher.stop").Msg("watcher stopped")

	var cursor uint64
	lastBeat := time.Now()
	idle := time.NewTimer(w.cfg.IdleSleep)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		head, ok := w.cfg.Ring.Head()
		if !ok || head == cursor {
			if w.heartbeatDue(&lastBeat) {
				w.emitHeartbeat(cursor)
			}
			idle.Reset(w.cfg.IdleSleep)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-idle.C:
			}
			continue
		}

		next := cursor + 1
		if oldest, ok := w.cfg.Ring.Oldest(); ok && next < oldest {
			skipped := oldest - next
			w.noteSkipped(skipped)
			metrics.AddFramesSkipped(w.cfg.PipelineID, detector, int(skipped))
			logger.Debug().
				Str(log.FieldEvent, "watcher.lapped").
				Uint64("skipped", skipped).
				Msg("skipping ahead to ring tail")
			next = oldest
		}

		f, ok := w.cfg.Ring.At(next)
		if !ok {
			// Raced with a push that lapped us between Oldest and At.
			cursor = next
			continue
		}
		cursor = next
		metrics.SetBufferLag(w.cfg.PipelineID, detector, int(head-cursor))

		start := time.Now()
		detections, err := w.cfg.Processor.Process(ctx, f)
		metrics.ObserveFrameProcess(w.cfg.PipelineID, detector, time.Since(start))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			w.noteError()
			logger.Error().Err(err).
				Str(log.FieldEvent, "watcher.process_error").
				Uint64(log.FieldSeq, f.Seq).
				Msg("processor failed on frame")
			continue
		}

		fps := w.noteProcessed(f)
		metrics.IncFramesProcessed(w.cfg.PipelineID, detector)
		metrics.SetProcessFPS(w.cfg.PipelineID, detector, fps)

		if len(detections) > 0 {
			ev := NewEvent(w.cfg.PipelineID, detector, KindDetection, f, detections)
			w.emit(ev)
			for _, d := range detections {
				metrics.IncDetections(w.cfg.PipelineID, detector, d.Class, 1)
			}
		}

		if w.heartbeatDue(&lastBeat) {
			w.emitHeartbeat(cursor)
			logger.Info().
				Str(log.FieldEvent, "watcher.heartbeat").
				Float64(log.FieldFPS, fps).
				Uint64(log.FieldSeq, cursor).
				Msg("watcher alive")
		}
	}
}

// ProcessFrame runs the processor synchronously on one frame and wraps any
// detections into an event. Used by the one-shot file runner where no ring
// is involved.
func (w *Watcher) ProcessFrame(ctx context.Context, f frame.Frame) (*Event, error) {
	detections, err := w.cfg.Processor.Process(ctx, f)
	if err != nil {
		w.noteError()
		return nil, fmt.Errorf("process frame %d: %w", f.Seq, err)
	}
	w.noteProcessed(f)
	if len(detections) == 0 {
		return nil, nil
	}
	ev := NewEvent(w.cfg.PipelineID, w.cfg.Processor.Name(), KindDetection, f, detections)
	return &ev, nil
}

// Stats returns a snapshot of the watcher counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.FPS = w.meter.Rate()
	return s
}

func (w *Watcher) heartbeatDue(last *time.Time) bool {
	if w.cfg.Heartbeat == 0 {
		return false
	}
	if time.Since(*last) < w.cfg.Heartbeat {
		return false
	}
	*last = time.Now()
	return true
}

func (w *Watcher) emitHeartbeat(cursor uint64) {
	stats := w.Stats()
	ev := Event{
		ID:         uuid.NewString(),
		PipelineID: w.cfg.PipelineID,
		Detector:   stats.Detector,
		Kind:       KindHeartbeat,
		Seq:        cursor,
		Timestamp:  time.Now(),
		Meta: map[string]string{
			"fps":       fmt.Sprintf("%.2f", stats.FPS),
			"processed": fmt.Sprintf("%d", stats.Processed),
			"skipped":   fmt.Sprintf("%d", stats.Skipped),
		},
	}
	w.emit(ev)
	metrics.IncEvents(w.cfg.PipelineID, string(KindHeartbeat))
}

func (w *Watcher) emit(ev Event) {
	if w.cfg.Sink == nil {
		return
	}
	w.cfg.Sink(ev)
	if ev.Kind == KindDetection {
		metrics.IncEvents(w.cfg.PipelineID, string(KindDetection))
	}
}

func (w *Watcher) noteProcessed(f frame.Frame) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Processed++
	w.stats.LastSeq = f.Seq
	w.stats.LastFrame = f.Timestamp
	return w.meter.Tick(time.Now())
}

func (w *Watcher) noteSkipped(n uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Skipped += n
}

func (w *Watcher) noteError() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Errors++
}
