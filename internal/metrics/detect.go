// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DetectionsTotal counts individual detections by class.
	DetectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvp_detections_total",
		Help: "Total number of detections emitted by detectors",
	}, []string{"pipeline", "detector", "class"})

	// EventsTotal counts published pipeline events by kind.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvp_events_total",
		Help: "Total number of pipeline events published to the bus",
	}, []string{"pipeline", "kind"})

	// HazardsTotal counts hazard alerts raised by the tracker.
	HazardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvp_hazards_total",
		Help: "Total number of hazard proximity alerts",
	}, []string{"pipeline", "classes"})

	// TracksActive reports the number of live tracks per pipeline.
	TracksActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cvp_tracks_active",
		Help: "Number of currently tracked objects",
	}, []string{"pipeline"})

	// RemoteInferenceDuration tracks round-trip latency against the inference service.
	RemoteInferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cvp_remote_inference_duration_seconds",
		Help:    "Round-trip time of remote inference requests",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"pipeline", "outcome"})

	// CannedReplayTotal counts recorded events replayed by the canned detector.
	CannedReplayTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvp_canned_replay_total",
		Help: "Total number of recorded events replayed",
	}, []string{"pipeline"})
)

// IncDetections records detections for a class.
func IncDetections(pipeline, detector, class string, n int) {
	if n <= 0 {
		return
	}
	DetectionsTotal.WithLabelValues(pipeline, detector, class).Add(float64(n))
}

// IncEvents records one published event.
func IncEvents(pipeline, kind string) {
	EventsTotal.WithLabelValues(pipeline, kind).Inc()
}

// IncHazards records one hazard alert for a class pair such as "forklift|person".
func IncHazards(pipeline, classes string) {
	HazardsTotal.WithLabelValues(pipeline, classes).Inc()
}

// SetTracksActive publishes the live track count.
func SetTracksActive(pipeline string, n int) {
	TracksActive.WithLabelValues(pipeline).Set(float64(n))
}

// ObserveRemoteInference records one inference round trip.
func ObserveRemoteInference(pipeline, outcome string, d time.Duration) {
	RemoteInferenceDuration.WithLabelValues(pipeline, outcome).Observe(d.Seconds())
}

// IncCannedReplay records one replayed recording event.
func IncCannedReplay(pipeline string) {
	CannedReplayTotal.WithLabelValues(pipeline).Inc()
}
