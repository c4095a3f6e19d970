// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Pipeline attributes
	PipelineIDKey    = "pipeline.id"
	PipelineStateKey = "pipeline.state"
	SourceTypeKey    = "pipeline.source_type"
	FrameSeqKey      = "frame.seq"

	// Detection attributes
	DetectorKey       = "detect.detector"
	DetectionCountKey = "detect.count"
	EventKindKey      = "detect.kind"
	HazardClassesKey  = "hazard.classes"
	HazardDistanceKey = "hazard.distance"

	// Storage attributes
	StoreBackendKey = "store.backend"
	StoreOpKey      = "store.op"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// PipelineAttributes creates pipeline-related span attributes.
func PipelineAttributes(pipelineID, state, sourceType string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if pipelineID != "" {
		attrs = append(attrs, attribute.String(PipelineIDKey, pipelineID))
	}
	if state != "" {
		attrs = append(attrs, attribute.String(PipelineStateKey, state))
	}
	if sourceType != "" {
		attrs = append(attrs, attribute.String(SourceTypeKey, sourceType))
	}
	return attrs
}

// DetectionAttributes creates detection-related span attributes.
func DetectionAttributes(detector, kind string, seq uint64, count int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(DetectorKey, detector),
		attribute.String(EventKindKey, kind),
		attribute.Int64(FrameSeqKey, int64(seq)),
		attribute.Int(DetectionCountKey, count),
	}
}

// HazardAttributes creates hazard-related span attributes.
func HazardAttributes(classes string, distance float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HazardClassesKey, classes),
		attribute.Float64(HazardDistanceKey, distance),
	}
}

// StoreAttributes creates persistence-related span attributes.
func StoreAttributes(backend, op string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(StoreBackendKey, backend),
		attribute.String(StoreOpKey, op),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
