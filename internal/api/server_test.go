// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexeybutyrev/cv2pipeline/internal/cache"
	"github.com/alexeybutyrev/cv2pipeline/internal/config"
	"github.com/alexeybutyrev/cv2pipeline/internal/detect"
	"github.com/alexeybutyrev/cv2pipeline/internal/frame"
	"github.com/alexeybutyrev/cv2pipeline/internal/pipeline"
	"github.com/alexeybutyrev/cv2pipeline/internal/state"
	"github.com/alexeybutyrev/cv2pipeline/internal/store"
)

func testAppConfig(ids ...string) config.AppConfig {
	cfg := config.Defaults()
	cfg.API.Token = ""
	for _, id := range ids {
		pl := config.PipelineConfig{
			ID: id,
			Source: config.SourceConfig{
				Type:   "test",
				Width:  64,
				Height: 48,
				Format: "gray",
				FPS:    60,
			},
			Detector: config.DetectorConfig{Type: "motion"},
		}
		config.PipelineDefaults(&pl)
		cfg.Pipelines = append(cfg.Pipelines, pl)
	}
	return cfg
}

func newTestManager(t *testing.T, cfg config.AppConfig) (*pipeline.Manager, *state.Store) {
	t.Helper()

	runs, err := state.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = runs.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	m := pipeline.NewManager(ctx, cfg, pipeline.Sinks{}, runs)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = m.StopAll(stopCtx)
	})
	return m, runs
}

func newTestServer(t *testing.T, cfg config.AppConfig, deps Deps) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(cfg, deps).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestAuth(t *testing.T) {
	cfg := testAppConfig()
	cfg.API.Token = "secret"
	srv := newTestServer(t, cfg, Deps{Version: "test"})

	t.Run("missing token", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/status", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("wrong token", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/status", "nope")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid bearer", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/status", "secret")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("query token", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/status?access_token=secret", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestStatus(t *testing.T) {
	cfg := testAppConfig("dock")
	m, _ := newTestManager(t, cfg)
	snaps := cache.NewSnapshots(cache.NewMemory(time.Minute))
	srv := newTestServer(t, cfg, Deps{Manager: m, Snapshots: snaps, Version: "1.2.3"})

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status statusResponse
	decodeJSON(t, resp, &status)
	assert.Equal(t, "1.2.3", status.Version)
	require.Len(t, status.Pipelines, 1)
	assert.Equal(t, "dock", status.Pipelines[0].ID)
	assert.NotNil(t, status.Cache)
}

func TestPipelineLifecycle(t *testing.T) {
	cfg := testAppConfig("dock")
	m, _ := newTestManager(t, cfg)
	srv := newTestServer(t, cfg, Deps{Manager: m})

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/pipelines", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []pipeline.Status
	decodeJSON(t, resp, &list)
	require.Len(t, list, 1)
	assert.Equal(t, pipeline.StateStopped, list[0].State)

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/pipelines/dock/start", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var rec state.RunRecord
	decodeJSON(t, resp, &rec)
	assert.Equal(t, "dock", rec.PipelineID)
	assert.NotEmpty(t, rec.RunID)

	// Second start conflicts with the live run.
	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/pipelines/dock/start", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.Eventually(t, func() bool {
		s, err := m.Status("dock")
		return err == nil && s.State == pipeline.StateRunning
	}, 2*time.Second, 10*time.Millisecond)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/pipelines/dock/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status pipeline.Status
	decodeJSON(t, resp, &status)
	assert.Equal(t, pipeline.StateRunning, status.State)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/pipelines/dock/tracks", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/pipelines/dock/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/pipelines/dock/stop", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPipelineUnknown(t *testing.T) {
	cfg := testAppConfig("dock")
	m, _ := newTestManager(t, cfg)
	srv := newTestServer(t, cfg, Deps{Manager: m})

	for _, path := range []string{
		"/api/v1/pipelines/ghost/",
		"/api/v1/pipelines/ghost/tracks",
	} {
		resp := doRequest(t, http.MethodGet, srv.URL+path, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/pipelines/ghost/start", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTracksStoppedPipeline(t *testing.T) {
	cfg := testAppConfig("dock")
	m, _ := newTestManager(t, cfg)
	srv := newTestServer(t, cfg, Deps{Manager: m})

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/pipelines/dock/tracks", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tracks []pipeline.TrackView
	decodeJSON(t, resp, &tracks)
	assert.Empty(t, tracks)
}

func TestEvents(t *testing.T) {
	cfg := testAppConfig()
	db, err := store.NewSQLite(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := frame.Frame{Seq: 7, Timestamp: time.Now().UTC()}
	ev := detect.NewEvent("dock", "motion", detect.KindDetection, f, []detect.Detection{
		{Class: "motion", Score: 1.0, Box: detect.Rect{X: 1, Y: 2, W: 3, H: 4}},
	})
	require.NoError(t, db.InsertEvent(context.Background(), ev))

	srv := newTestServer(t, cfg, Deps{Store: db})

	t.Run("all pipelines", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/events", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var events []detect.Event
		decodeJSON(t, resp, &events)
		require.Len(t, events, 1)
		assert.Equal(t, "motion", events[0].Detector)
		assert.Equal(t, uint64(7), events[0].Seq)
	})

	t.Run("scoped by route", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/pipelines/dock/events", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var events []detect.Event
		decodeJSON(t, resp, &events)
		assert.Len(t, events, 1)
	})

	t.Run("other pipeline empty", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/events?pipeline=garage", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var events []detect.Event
		decodeJSON(t, resp, &events)
		assert.Empty(t, events)
	})

	t.Run("class stats", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/stats/classes", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var counts map[string]int64
		decodeJSON(t, resp, &counts)
		assert.Equal(t, int64(1), counts["motion"])
	})
}

func TestEventsStoreUnavailable(t *testing.T) {
	srv := newTestServer(t, testAppConfig(), Deps{})

	for _, path := range []string{
		"/api/v1/events",
		"/api/v1/hazards",
		"/api/v1/stats/classes",
	} {
		resp := doRequest(t, http.MethodGet, srv.URL+path, "")
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
	}
}

func TestSnapshot(t *testing.T) {
	cfg := testAppConfig()
	snaps := cache.NewSnapshots(cache.NewMemory(time.Minute))
	srv := newTestServer(t, cfg, Deps{Snapshots: snaps})

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/pipelines/dock/snapshot.jpg", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	snaps.PutSnapshot(context.Background(), "dock", []byte{0xff, 0xd8, 0xff})

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/pipelines/dock/snapshot.jpg", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestRuns(t *testing.T) {
	cfg := testAppConfig()
	runs, err := state.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = runs.Close() })

	rec := state.NewRunRecord("dock", "test")
	require.NoError(t, runs.PutRun(context.Background(), rec))

	srv := newTestServer(t, cfg, Deps{Runs: runs})

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/runs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []state.RunRecord
	decodeJSON(t, resp, &list)
	require.Len(t, list, 1)
	assert.Equal(t, rec.RunID, list[0].RunID)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/runs/"+rec.RunID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/runs/no-such-run", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOptionalDepsUnavailable(t *testing.T) {
	srv := newTestServer(t, testAppConfig(), Deps{})

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/config/reload", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/evidence/presign?key=x", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/pipelines", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/pipelines/dock/snapshot.jpg", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSecurityHeadersApplied(t *testing.T) {
	srv := newTestServer(t, testAppConfig(), Deps{Version: "test"})

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("Content-Security-Policy"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
