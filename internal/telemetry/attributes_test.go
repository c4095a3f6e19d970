// SPDX-License-Identifier: MIT

package telemetry

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestHTTPAttributes(t *testing.T) {
	attrs := HTTPAttributes("GET", "/api/v1/pipelines", "http://localhost:8080/api/v1/pipelines", 200)

	if len(attrs) != 4 {
		t.Fatalf("Expected 4 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, HTTPMethodKey, "GET")
	verifyAttribute(t, attrs, HTTPRouteKey, "/api/v1/pipelines")
	verifyAttribute(t, attrs, HTTPURLKey, "http://localhost:8080/api/v1/pipelines")
	verifyIntAttribute(t, attrs, HTTPStatusCodeKey, 200)
}

func TestPipelineAttributes(t *testing.T) {
	tests := []struct {
		name       string
		pipelineID string
		state      string
		sourceType string
		wantLen    int
	}{
		{
			name:       "all fields",
			pipelineID: "dock-cam",
			state:      "running",
			sourceType: "stream",
			wantLen:    3,
		},
		{
			name:       "only id",
			pipelineID: "dock-cam",
			wantLen:    1,
		},
		{
			name:    "empty fields",
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := PipelineAttributes(tt.pipelineID, tt.state, tt.sourceType)

			if len(attrs) != tt.wantLen {
				t.Errorf("Expected %d attributes, got %d", tt.wantLen, len(attrs))
			}

			if tt.pipelineID != "" {
				verifyAttribute(t, attrs, PipelineIDKey, tt.pipelineID)
			}
			if tt.state != "" {
				verifyAttribute(t, attrs, PipelineStateKey, tt.state)
			}
			if tt.sourceType != "" {
				verifyAttribute(t, attrs, SourceTypeKey, tt.sourceType)
			}
		})
	}
}

func TestDetectionAttributes(t *testing.T) {
	attrs := DetectionAttributes("motion", "detection", 42, 3)

	if len(attrs) != 4 {
		t.Fatalf("Expected 4 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, DetectorKey, "motion")
	verifyAttribute(t, attrs, EventKindKey, "detection")
	verifyInt64Attribute(t, attrs, FrameSeqKey, 42)
	verifyIntAttribute(t, attrs, DetectionCountKey, 3)
}

func TestHazardAttributes(t *testing.T) {
	attrs := HazardAttributes("forklift|person", 87.5)

	if len(attrs) != 2 {
		t.Fatalf("Expected 2 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, HazardClassesKey, "forklift|person")
}

func TestStoreAttributes(t *testing.T) {
	attrs := StoreAttributes("sqlite", "insert_event")

	if len(attrs) != 2 {
		t.Fatalf("Expected 2 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, StoreBackendKey, "sqlite")
	verifyAttribute(t, attrs, StoreOpKey, "insert_event")
}

func TestErrorAttributes(t *testing.T) {
	err := errors.New("test error")
	attrs := ErrorAttributes(err, "network_error")

	if len(attrs) != 2 {
		t.Fatalf("Expected 2 attributes, got %d", len(attrs))
	}

	verifyBoolAttribute(t, attrs, ErrorKey, true)
	verifyAttribute(t, attrs, ErrorTypeKey, "network_error")
}

// Helper functions for attribute verification

func verifyAttribute(t *testing.T, attrs []attribute.KeyValue, key, expectedValue string) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsString() != expectedValue {
				t.Errorf("Expected %s=%s, got %s", key, expectedValue, attr.Value.AsString())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyIntAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue int) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsInt64() != int64(expectedValue) {
				t.Errorf("Expected %s=%d, got %d", key, expectedValue, attr.Value.AsInt64())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyInt64Attribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue int64) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsInt64() != expectedValue {
				t.Errorf("Expected %s=%d, got %d", key, expectedValue, attr.Value.AsInt64())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyBoolAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue bool) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsBool() != expectedValue {
				t.Errorf("Expected %s=%t, got %t", key, expectedValue, attr.Value.AsBool())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}
