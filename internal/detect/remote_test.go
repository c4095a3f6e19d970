// SPDX-License-Identifier: MIT

package detect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRemoteValidation(t *testing.T) {
	_, err := NewRemote("p", RemoteConfig{})
	assert.Error(t, err)

	r, err := NewRemote("p", RemoteConfig{Endpoint: "http://model:9000"})
	require.NoError(t, err)
	assert.Equal(t, "remote", r.Name())
}

func TestRemoteParsesAndFiltersDetections(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/detect", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		require.NoError(t, r.ParseMultipartForm(8<<20))
		_, hdr, err := r.FormFile("frame")
		require.NoError(t, err)
		assert.Contains(t, hdr.Filename, ".jpeg")

		_ = json.NewEncoder(w).Encode(remoteResponse{Detections: []remoteDetection{
			{Class: "person", Score: 0.92, X: 10, Y: 20, W: 30, H: 40},
			{Class: "person", Score: 0.2, X: 0, Y: 0, W: 5, H: 5},   // below threshold
			{Class: "bird", Score: 0.99, X: 50, Y: 50, W: 5, H: 5},  // ignored class
		}})
	}))
	defer srv.Close()

	det, err := NewRemote("cam-a", RemoteConfig{
		Endpoint:            srv.URL,
		Token:               "secret",
		ConfidenceThreshold: 0.5,
		IgnoreClasses:       []string{"bird"},
	})
	require.NoError(t, err)

	dets, err := det.Process(context.Background(), grayFrame(t, 100, 100, 0))
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)

	require.Len(t, dets, 1)
	assert.Equal(t, "person", dets[0].Class)
	assert.Equal(t, Rect{X: 10, Y: 20, W: 30, H: 40}, dets[0].Box)
	assert.InDelta(t, 0.25, dets[0].Center.X, 0.001)
	assert.InDelta(t, 0.4, dets[0].Center.Y, 0.001)
}

func TestRemoteSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	det, err := NewRemote("cam-a", RemoteConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = det.Process(context.Background(), grayFrame(t, 10, 10, 0))
	assert.ErrorContains(t, err, "503")
}

func TestRemoteHonoursTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	det, err := NewRemote("cam-a", RemoteConfig{Endpoint: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = det.Process(context.Background(), grayFrame(t, 10, 10, 0))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
