// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecoderRestartsTotal counts supervised ffmpeg restarts by reason.
	DecoderRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvp_decoder_restarts_total",
		Help: "Total number of decoder process restarts",
	}, []string{"pipeline", "reason"})

	// ProcSignalsTotal counts signals sent to child process groups.
	ProcSignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvp_proc_signals_total",
		Help: "Total number of signals sent to child process groups",
	}, []string{"signal", "outcome"})

	// ProcWaitTotal counts child process wait outcomes.
	ProcWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvp_proc_wait_total",
		Help: "Total number of child process wait outcomes",
	}, []string{"outcome"})

	// StoreOpDuration tracks event store operation latency.
	StoreOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cvp_store_op_duration_seconds",
		Help:    "Latency of event store operations",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
	}, []string{"backend", "op"})

	// StoreErrorsTotal counts failed event store operations.
	StoreErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvp_store_errors_total",
		Help: "Total number of failed event store operations",
	}, []string{"backend", "op"})

	// BusDroppedTotal counts events dropped because a subscriber was slow.
	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvp_bus_dropped_total",
		Help: "Total number of bus events dropped due to slow subscribers",
	}, []string{"topic"})

	// WSClients reports currently connected websocket feed clients.
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cvp_ws_clients",
		Help: "Number of connected websocket event feed clients",
	})

	// CacheOpsTotal counts status cache operations by outcome.
	CacheOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvp_cache_ops_total",
		Help: "Total number of cache operations",
	}, []string{"op", "outcome"})

	// CaptureWritesTotal counts evidence capture writes.
	CaptureWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvp_capture_writes_total",
		Help: "Total number of evidence files written",
	}, []string{"kind", "outcome"})

	// OffloadTotal counts evidence offloads to object storage.
	OffloadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvp_offload_total",
		Help: "Total number of evidence offload attempts",
	}, []string{"outcome"})
)

// IncDecoderRestart records one decoder restart.
func IncDecoderRestart(pipeline, reason string) {
	DecoderRestartsTotal.WithLabelValues(pipeline, reason).Inc()
}

// IncProcSignal records a signal delivery attempt.
func IncProcSignal(signal, outcome string) {
	ProcSignalsTotal.WithLabelValues(signal, outcome).Inc()
}

// IncProcWait records a child wait outcome.
func IncProcWait(outcome string) {
	ProcWaitTotal.WithLabelValues(outcome).Inc()
}

// ObserveStoreOp records one store operation.
func ObserveStoreOp(backend, op string, d time.Duration, err error) {
	StoreOpDuration.WithLabelValues(backend, op).Observe(d.Seconds())
	if err != nil {
		StoreErrorsTotal.WithLabelValues(backend, op).Inc()
	}
}

// IncBusDropped records one dropped bus event.
func IncBusDropped(topic string) {
	BusDroppedTotal.WithLabelValues(topic).Inc()
}

// IncCacheOp records one cache operation outcome.
func IncCacheOp(op, outcome string) {
	CacheOpsTotal.WithLabelValues(op, outcome).Inc()
}

// IncCaptureWrite records one capture write outcome.
func IncCaptureWrite(kind, outcome string) {
	CaptureWritesTotal.WithLabelValues(kind, outcome).Inc()
}

// IncOffload records one offload outcome.
func IncOffload(outcome string) {
	OffloadTotal.WithLabelValues(outcome).Inc()
}
