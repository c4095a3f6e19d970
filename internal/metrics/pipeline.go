// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesIngested counts frames read from the decode source per pipeline.
	FramesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvp_frames_ingested_total",
		Help: "Total number of frames ingested from the source",
	}, []string{"pipeline"})

	// FramesProcessed counts frames a watcher actually handed to its processor.
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvp_frames_processed_total",
		Help: "Total number of frames processed by detector watchers",
	}, []string{"pipeline", "detector"})

	// FramesSkipped counts frames a watcher had to skip to catch up with the
	// buffer head.
	FramesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvp_frames_skipped_total",
		Help: "Total number of buffered frames skipped by lagging watchers",
	}, []string{"pipeline", "detector"})

	// IngestFPS reports the moving-window ingest rate per pipeline.
	IngestFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cvp_ingest_fps",
		Help: "Frames per second read from the source over the last window",
	}, []string{"pipeline"})

	// ProcessFPS reports the moving-window processing rate per watcher.
	ProcessFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cvp_process_fps",
		Help: "Frames per second processed by a watcher over the last window",
	}, []string{"pipeline", "detector"})

	// BufferLag reports how far a watcher trails the ring head.
	BufferLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cvp_buffer_lag_frames",
		Help: "Number of frames between the ring head and a watcher cursor",
	}, []string{"pipeline", "detector"})

	// FrameProcessDuration tracks per-frame processing latency.
	FrameProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cvp_frame_process_duration_seconds",
		Help:    "Time spent processing a single frame",
		Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"pipeline", "detector"})

	// PipelineState reports the current lifecycle state as a one-hot gauge.
	PipelineState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cvp_pipeline_state",
		Help: "Current pipeline lifecycle state (1 for the active state)",
	}, []string{"pipeline", "state"})
)

// IncFramesIngested records one ingested frame.
func IncFramesIngested(pipeline string) {
	FramesIngested.WithLabelValues(pipeline).Inc()
}

// IncFramesProcessed records one processed frame for a watcher.
func IncFramesProcessed(pipeline, detector string) {
	FramesProcessed.WithLabelValues(pipeline, detector).Inc()
}

// AddFramesSkipped records frames a watcher skipped while catching up.
func AddFramesSkipped(pipeline, detector string, n int) {
	if n <= 0 {
		return
	}
	FramesSkipped.WithLabelValues(pipeline, detector).Add(float64(n))
}

// SetIngestFPS publishes the current ingest rate.
func SetIngestFPS(pipeline string, fps float64) {
	IngestFPS.WithLabelValues(pipeline).Set(fps)
}

// SetProcessFPS publishes the current processing rate for a watcher.
func SetProcessFPS(pipeline, detector string, fps float64) {
	ProcessFPS.WithLabelValues(pipeline, detector).Set(fps)
}

// SetBufferLag publishes the current watcher lag behind the ring head.
func SetBufferLag(pipeline, detector string, lag int) {
	BufferLag.WithLabelValues(pipeline, detector).Set(float64(lag))
}

// ObserveFrameProcess records the latency of one frame.
func ObserveFrameProcess(pipeline, detector string, d time.Duration) {
	FrameProcessDuration.WithLabelValues(pipeline, detector).Observe(d.Seconds())
}

// SetPipelineState flips the one-hot state gauge for a pipeline.
func SetPipelineState(pipeline, state string, states []string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1.0
		}
		PipelineState.WithLabelValues(pipeline, s).Set(v)
	}
}
