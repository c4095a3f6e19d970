// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/alexeybutyrev/cv2pipeline/internal/bus"
	"github.com/alexeybutyrev/cv2pipeline/internal/cache"
	"github.com/alexeybutyrev/cv2pipeline/internal/capture"
	"github.com/alexeybutyrev/cv2pipeline/internal/config"
	"github.com/alexeybutyrev/cv2pipeline/internal/detect"
	"github.com/alexeybutyrev/cv2pipeline/internal/encode"
	"github.com/alexeybutyrev/cv2pipeline/internal/frame"
	"github.com/alexeybutyrev/cv2pipeline/internal/ingest"
	"github.com/alexeybutyrev/cv2pipeline/internal/log"
	"github.com/alexeybutyrev/cv2pipeline/internal/metrics"
	"github.com/alexeybutyrev/cv2pipeline/internal/store"
	"github.com/alexeybutyrev/cv2pipeline/internal/track"
)

// errSourceDrained signals a file input reached EOF cleanly. It never
// escapes Run.
var errSourceDrained = errors.New("source drained")

const (
	eventBufferSize  = 256
	snapshotInterval = 500 * time.Millisecond
	encodeIdleSleep  = 5 * time.Millisecond
	sinkOpTimeout    = 5 * time.Second
)

// Sinks bundles the optional consumers a pipeline feeds. Any field may be
// nil; the pipeline skips what is not wired.
type Sinks struct {
	Store     store.Store
	Saver     *capture.Saver
	Offloader *capture.Offloader
	Bus       *bus.MemoryBus
	Snapshots *cache.Snapshots
}

// Status is a point-in-time snapshot of one pipeline.
type Status struct {
	ID        string              `json:"id"`
	State     State               `json:"state"`
	StartedAt time.Time           `json:"started_at,omitempty"`
	Source    string              `json:"source"`
	IngestFPS float64             `json:"ingest_fps"`
	Watcher   detect.WatcherStats `json:"watcher"`
	Tracks    int                 `json:"tracks"`
	Events    uint64              `json:"events"`
	Hazards   uint64              `json:"hazards"`
	LastError string              `json:"last_error,omitempty"`
}

// Pipeline wires one source through detection and tracking into the sinks.
type Pipeline struct {
	cfg       config.PipelineConfig
	ffmpegBin string

	ring    *frame.Ring
	source  ingest.Source
	watcher *detect.Watcher
	tracker *track.Tracker
	sinks   Sinks

	lifecycle *machine
	events    chan detect.Event

	startedAt  time.Time
	eventCount atomic.Uint64
	hazardCnt  atomic.Uint64
	dropped    atomic.Uint64

	mu      sync.Mutex
	lastErr error
}

// New builds a pipeline from its config. Nothing runs until Run is called.
func New(cfg config.PipelineConfig, ffmpegBin string, sinks Sinks) (*Pipeline, error) {
	ring := frame.NewRing(cfg.RingSize)

	source, err := buildSource(cfg.ID, ffmpegBin, ring, cfg.Source)
	if err != nil {
		return nil, err
	}

	processor, err := buildProcessor(cfg.ID, cfg.Detector)
	if err != nil {
		return nil, err
	}

	saver, err := buildSaver(cfg.ID, cfg.Capture)
	if err != nil {
		return nil, err
	}
	sinks.Saver = saver

	p := &Pipeline{
		cfg:       cfg,
		ffmpegBin: ffmpegBin,
		ring:      ring,
		source:    source,
		tracker:   track.New(cfg.ID, cfg.Tracker),
		sinks:     sinks,
		lifecycle: newLifecycle(),
		events:    make(chan detect.Event, eventBufferSize),
	}

	p.watcher, err = detect.NewWatcher(detect.WatcherConfig{
		PipelineID: cfg.ID,
		Ring:       ring,
		Processor:  processor,
		Sink:       p.enqueue,
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

// ID returns the pipeline id.
func (p *Pipeline) ID() string { return p.cfg.ID }

// enqueue hands an event from the watcher goroutine to the sink loop. The
// frame path must never block on a slow sink, so overflow drops.
func (p *Pipeline) enqueue(ev detect.Event) {
	select {
	case p.events <- ev:
	default:
		p.dropped.Add(1)
		metrics.IncBusDropped("pipeline." + p.cfg.ID)
	}
}

// Run drives the pipeline until ctx is cancelled or the input drains. A
// clean file EOF returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	logger := log.WithComponent("pipeline").With().
		Str(log.FieldPipelineID, p.cfg.ID).
		Logger()
	ctx = logger.WithContext(ctx)

	p.startedAt = time.Now()
	p.setState(ctx, triggerStarted)
	logger.Info().
		Str(log.FieldEvent, "pipeline.start").
		Str("source_type", p.cfg.Source.Type).
		Str("detector", p.cfg.Detector.Type).
		Msg("pipeline started")

	var encoder *encode.Writer
	if p.cfg.Encode.Enabled {
		format, err := parseFormat(p.cfg.Source.Format)
		if err != nil {
			return p.fail(ctx, err)
		}
		encoder, err = encode.NewWriter(ctx, encode.Config{
			BinPath: p.ffmpegBin,
			Path:    p.cfg.Encode.Path,
			Width:   p.cfg.Source.Width,
			Height:  p.cfg.Source.Height,
			Format:  format,
			FPS:     p.cfg.Encode.FPS,
			CRF:     p.cfg.Encode.CRF,
		})
		if err != nil {
			return p.fail(ctx, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := p.source.Run(gctx)
		if err == nil {
			// File inputs drain; cancel the group so the watcher and
			// sinks wind down.
			return errSourceDrained
		}
		return err
	})

	g.Go(func() error {
		return p.watcher.Run(gctx)
	})

	g.Go(func() error {
		p.sinkLoop(gctx)
		return nil
	})

	if encoder != nil {
		g.Go(func() error {
			return p.encodeLoop(gctx, encoder)
		})
	} else if p.sinks.Snapshots != nil {
		g.Go(func() error {
			return p.overlayLoop(gctx)
		})
	}

	err := g.Wait()

	if encoder != nil {
		if cerr := encoder.Close(); cerr != nil {
			logger.Error().Err(cerr).
				Str(log.FieldEvent, "pipeline.encode_close_error").
				Msg("failed to finalise annotated movie")
			if err == nil || isCleanStop(err) {
				err = cerr
			}
		} else {
			logger.Info().
				Str(log.FieldEvent, "pipeline.encode_done").
				Str("path", p.cfg.Encode.Path).
				Uint64("frames", uint64(encoder.FrameCount())).
				Msg("annotated movie written")
		}
	}

	if isCleanStop(err) {
		err = nil
	}

	p.setState(ctx, triggerStop)
	if err != nil {
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		p.setState(ctx, triggerFail)
		logger.Error().Err(err).
			Str(log.FieldEvent, "pipeline.failed").
			Msg("pipeline failed")
		return err
	}

	p.setState(ctx, triggerStopped)
	logger.Info().
		Str(log.FieldEvent, "pipeline.stop").
		Uint64("events", p.eventCount.Load()).
		Uint64("hazards", p.hazardCnt.Load()).
		Uint64("dropped", p.dropped.Load()).
		Msg("pipeline stopped")
	return nil
}

func isCleanStop(err error) bool {
	return err == nil ||
		errors.Is(err, errSourceDrained) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (p *Pipeline) fail(ctx context.Context, err error) error {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	p.setState(ctx, triggerFail)
	return err
}

func (p *Pipeline) setState(ctx context.Context, trigger Trigger) {
	state, err := p.lifecycle.Fire(ctx, trigger)
	if err != nil {
		return
	}
	metrics.SetPipelineState(p.cfg.ID, string(state), LifecycleStates)
}

// sinkLoop consumes watcher events: tracking, persistence, capture and
// publishing all happen here, off the frame path.
func (p *Pipeline) sinkLoop(ctx context.Context) {
	logger := log.WithComponentFromContext(ctx, "sink")

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.events:
			p.handleEvent(ctx, logger, ev)
		}
	}
}

func (p *Pipeline) handleEvent(ctx context.Context, logger zerolog.Logger, ev detect.Event) {
	p.eventCount.Add(1)

	var hazards []track.Hazard
	if ev.Kind == detect.KindDetection {
		tracks := p.tracker.Update(ev.Timestamp, ev.Seq, ev.Detections)
		metrics.SetTracksActive(p.cfg.ID, len(tracks))
		hazards = p.tracker.Hazards(ev.Timestamp, ev.Seq)
	}

	opCtx, cancel := context.WithTimeout(ctx, sinkOpTimeout)
	defer cancel()

	if p.sinks.Store != nil {
		if err := p.sinks.Store.InsertEvent(opCtx, ev); err != nil {
			logger.Error().Err(err).
				Str(log.FieldEvent, "sink.store_error").
				Uint64(log.FieldSeq, ev.Seq).
				Msg("failed to persist event")
		}
	}
	if p.sinks.Bus != nil {
		p.sinks.Bus.TryPublish(bus.TopicEvents(p.cfg.ID), bus.EventMessage(ev))
	}

	for _, hz := range hazards {
		p.hazardCnt.Add(1)
		metrics.IncHazards(p.cfg.ID, hz.PairKey())
		logger.Warn().
			Str(log.FieldEvent, "sink.hazard").
			Str("classes", hz.PairKey()).
			Float64("distance", hz.Distance).
			Bool("predicted", hz.Predicted).
			Uint64(log.FieldSeq, hz.Seq).
			Msg("hazard raised")

		if p.sinks.Store != nil {
			if err := p.sinks.Store.InsertHazard(opCtx, p.cfg.ID, hz); err != nil {
				logger.Error().Err(err).
					Str(log.FieldEvent, "sink.store_error").
					Msg("failed to persist hazard")
			}
		}
		if p.sinks.Bus != nil {
			p.sinks.Bus.TryPublish(bus.TopicHazards, bus.HazardMessage(p.cfg.ID, hz))
		}
	}

	if p.sinks.Saver != nil && ev.Kind == detect.KindDetection {
		if !p.cfg.Capture.OnHazardOnly || len(hazards) > 0 {
			p.captureEvidence(opCtx, logger, ev, hazards)
		}
	}
}

// captureEvidence writes the raw frame, an annotated copy and the event
// record to the evidence directory, then offloads when configured.
func (p *Pipeline) captureEvidence(ctx context.Context, logger zerolog.Logger, ev detect.Event, hazards []track.Hazard) {
	raw, ok := p.ring.At(ev.Seq)
	if !ok {
		// Frame already lapped out of the ring; capture the record alone.
		logger.Debug().
			Str(log.FieldEvent, "sink.capture_lapped").
			Uint64(log.FieldSeq, ev.Seq).
			Msg("frame gone before capture")
		return
	}

	annotated := raw.Clone()
	renderOverlay(annotated, p.tracker.Snapshot(), hazards, p.cfg.Classes, p.statusText())

	art, err := p.sinks.Saver.Save(ev, raw, annotated)
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "sink.capture_error").
			Uint64(log.FieldSeq, ev.Seq).
			Msg("failed to save evidence")
		return
	}

	if p.sinks.Offloader != nil {
		if _, err := p.sinks.Offloader.UploadArtifacts(ctx, p.cfg.ID, art); err != nil {
			logger.Error().Err(err).
				Str(log.FieldEvent, "sink.offload_error").
				Msg("failed to offload evidence")
		}
	}
}

// statusText is the top-left overlay line every annotated frame carries.
func (p *Pipeline) statusText() string {
	return fmt.Sprintf("%s %.1f FPS", p.cfg.ID, p.watcher.Stats().FPS)
}

// annotateFrame clones f and renders the current overlay into the copy.
func (p *Pipeline) annotateFrame(f frame.Frame) frame.Frame {
	annotated := f.Clone()
	renderOverlay(annotated, p.tracker.Snapshot(), nil, p.cfg.Classes, p.statusText())
	return annotated
}

func (p *Pipeline) cacheSnapshot(ctx context.Context, annotated frame.Frame) {
	if jpeg, err := frame.EncodeJPEG(annotated, p.cfg.Capture.Quality); err == nil {
		p.sinks.Snapshots.PutSnapshot(ctx, p.cfg.ID, jpeg)
	}
}

// overlayLoop renders the latest frame with the current track overlay at a
// fixed cadence, feeding the snapshot cache. It runs only when no movie is
// being written; encodeLoop covers both jobs otherwise.
func (p *Pipeline) overlayLoop(ctx context.Context) error {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		head, ok := p.ring.Head()
		if !ok || head == lastSeq {
			continue
		}
		f, ok := p.ring.At(head)
		if !ok {
			continue
		}
		lastSeq = head

		p.cacheSnapshot(ctx, p.annotateFrame(f))
	}
}

// frameWriter is the part of encode.Writer the overlay path needs.
type frameWriter interface {
	WriteFrame(frame.Frame) error
}

// encodeLoop chases the ring and writes every frame to the movie writer
// with the overlay rendered in, updating the snapshot cache on the side.
// The encoder must see every frame, not a sampled subset, so this follows
// the ring the way the watcher does instead of polling on a ticker.
func (p *Pipeline) encodeLoop(ctx context.Context, encoder frameWriter) error {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	idle := time.NewTimer(encodeIdleSleep)
	defer idle.Stop()

	var cursor uint64
	for {
		select {
		case <-ctx.Done():
			// The source may have drained with frames still in the ring;
			// flush what is already buffered before giving up.
			return p.drainEncode(encoder, cursor)
		default:
		}

		head, ok := p.ring.Head()
		if !ok || head == cursor {
			idle.Reset(encodeIdleSleep)
			select {
			case <-ctx.Done():
				return p.drainEncode(encoder, cursor)
			case <-idle.C:
			}
			continue
		}

		next := cursor + 1
		if oldest, ok := p.ring.Oldest(); ok && next < oldest {
			next = oldest
		}
		f, ok := p.ring.At(next)
		if !ok {
			cursor = next
			continue
		}
		cursor = next

		annotated := p.annotateFrame(f)
		if err := encoder.WriteFrame(annotated); err != nil {
			return err
		}

		if p.sinks.Snapshots != nil {
			select {
			case <-ticker.C:
				p.cacheSnapshot(ctx, annotated)
			default:
			}
		}
	}
}

// drainEncode writes the frames still buffered between cursor and head.
func (p *Pipeline) drainEncode(encoder frameWriter, cursor uint64) error {
	head, ok := p.ring.Head()
	if !ok {
		return nil
	}
	for next := cursor + 1; next <= head; next++ {
		f, ok := p.ring.At(next)
		if !ok {
			continue
		}
		if err := encoder.WriteFrame(p.annotateFrame(f)); err != nil {
			return err
		}
	}
	return nil
}

// Status reports the pipeline's current state and throughput.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	lastErr := p.lastErr
	p.mu.Unlock()

	s := Status{
		ID:        p.cfg.ID,
		State:     p.lifecycle.State(),
		StartedAt: p.startedAt,
		Source:    p.cfg.Source.Type,
		IngestFPS: p.source.FPS(),
		Watcher:   p.watcher.Stats(),
		Tracks:    p.tracker.Len(),
		Events:    p.eventCount.Load(),
		Hazards:   p.hazardCnt.Load(),
	}
	if lastErr != nil {
		s.LastError = lastErr.Error()
	}
	return s
}

// LastFrame returns the timestamp of the most recently processed frame.
func (p *Pipeline) LastFrame() time.Time {
	return p.watcher.Stats().LastFrame
}
