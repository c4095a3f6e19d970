// SPDX-License-Identifier: MIT

package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alexeybutyrev/cv2pipeline/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestPromhttpExposure(t *testing.T) {
	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	if _, err := srv.Client().Get(srv.URL); err != nil {
		t.Fatal(err)
	}
}

func scrape(t *testing.T) string {
	t.Helper()
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	promhttp.Handler().ServeHTTP(recorder, req)
	return recorder.Body.String()
}

func TestFrameCounters(t *testing.T) {
	metrics.IncFramesIngested("cam-entrance")
	metrics.IncFramesProcessed("cam-entrance", "motion")
	metrics.AddFramesSkipped("cam-entrance", "motion", 3)
	metrics.AddFramesSkipped("cam-entrance", "motion", 0) // no-op

	body := scrape(t)

	if !strings.Contains(body, "cvp_frames_ingested_total") {
		t.Error("expected cvp_frames_ingested_total metric to be present")
	}
	if !strings.Contains(body, `pipeline="cam-entrance"`) {
		t.Error("expected pipeline label in metrics output")
	}
	if !strings.Contains(body, `detector="motion"`) {
		t.Error("expected detector label in metrics output")
	}
}

func TestDetectionAndHazardCounters(t *testing.T) {
	metrics.IncDetections("cam-dock", "remote", "person", 2)
	metrics.IncHazards("cam-dock", "forklift|person")
	metrics.IncEvents("cam-dock", "detection")
	metrics.ObserveRemoteInference("cam-dock", "ok", 42*time.Millisecond)

	body := scrape(t)

	if !strings.Contains(body, "cvp_detections_total") {
		t.Error("expected cvp_detections_total metric")
	}
	if !strings.Contains(body, `classes="forklift|person"`) {
		t.Error("expected classes label on hazard counter")
	}
	if !strings.Contains(body, "cvp_remote_inference_duration_seconds") {
		t.Error("expected inference histogram")
	}
}

func TestPipelineStateGaugeIsOneHot(t *testing.T) {
	states := []string{"idle", "running", "failed"}
	metrics.SetPipelineState("cam-yard", "running", states)

	body := scrape(t)

	if !strings.Contains(body, `cvp_pipeline_state{pipeline="cam-yard",state="running"} 1`) {
		t.Error("expected running state to be 1")
	}
	if !strings.Contains(body, `cvp_pipeline_state{pipeline="cam-yard",state="idle"} 0`) {
		t.Error("expected idle state to be 0")
	}
}

func TestStoreOpRecordsErrors(t *testing.T) {
	metrics.ObserveStoreOp("sqlite", "insert", time.Millisecond, nil)
	metrics.ObserveStoreOp("sqlite", "insert", time.Millisecond, errTest)

	body := scrape(t)

	if !strings.Contains(body, "cvp_store_op_duration_seconds") {
		t.Error("expected store op histogram")
	}
	if !strings.Contains(body, `cvp_store_errors_total{backend="sqlite",op="insert"} 1`) {
		t.Error("expected exactly one recorded store error")
	}
}

var errTest = errTestType{}

type errTestType struct{}

func (errTestType) Error() string { return "boom" }
