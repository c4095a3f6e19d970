// SPDX-License-Identifier: MIT

package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/alexeybutyrev/cv2pipeline/internal/frame"
	"github.com/alexeybutyrev/cv2pipeline/internal/metrics"
)

const (
	defaultRemoteTimeout = 2 * time.Second
	maxRemoteResponse    = 4 << 20
)

// RemoteConfig configures the remote inference detector.
type RemoteConfig struct {
	// Endpoint is the base URL of the inference service; frames are POSTed
	// to <Endpoint>/v1/detect.
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	// Token is an optional bearer token for the inference service.
	Token string `json:"token" yaml:"token"`
	// ConfidenceThreshold drops detections scored below it.
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// IgnoreClasses lists class labels to discard from responses.
	IgnoreClasses []string `json:"ignore_classes" yaml:"ignore_classes"`
	// Timeout bounds each inference round trip.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// JPEGQuality for the encoded frame sent over the wire.
	JPEGQuality int `json:"jpeg_quality" yaml:"jpeg_quality"`
}

// remoteResponse is the wire shape the inference service replies with.
type remoteResponse struct {
	Detections []remoteDetection `json:"detections"`
}

type remoteDetection struct {
	Class string  `json:"class"`
	Score float64 `json:"score"`
	X     int     `json:"x"`
	Y     int     `json:"y"`
	W     int     `json:"w"`
	H     int     `json:"h"`
}

// Remote sends JPEG-encoded frames to an external model server and converts
// its answers into detections. It replaces in-process DNN inference; the
// model and its runtime live behind the HTTP boundary.
type Remote struct {
	pipelineID string
	cfg        RemoteConfig
	client     *http.Client
	ignore     map[string]struct{}
}

// NewRemote validates the config and returns a remote detector.
func NewRemote(pipelineID string, cfg RemoteConfig) (*Remote, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("remote detector: empty endpoint")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRemoteTimeout
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = frame.DefaultJPEGQuality
	}
	ignore := make(map[string]struct{}, len(cfg.IgnoreClasses))
	for _, c := range cfg.IgnoreClasses {
		ignore[c] = struct{}{}
	}
	return &Remote{
		pipelineID: pipelineID,
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.Timeout},
		ignore:     ignore,
	}, nil
}

// Name implements Processor.
func (r *Remote) Name() string { return "remote" }

// Process implements Processor.
func (r *Remote) Process(ctx context.Context, f frame.Frame) ([]Detection, error) {
	jpeg, err := frame.EncodeJPEG(f, r.cfg.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", f.Seq, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("frame", fmt.Sprintf("frame_%d.jpeg", f.Seq))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(jpeg); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint+"/v1/detect", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if r.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		metrics.ObserveRemoteInference(r.pipelineID, "error", time.Since(start))
		return nil, fmt.Errorf("inference request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		metrics.ObserveRemoteInference(r.pipelineID, "http_"+fmt.Sprint(resp.StatusCode), time.Since(start))
		return nil, fmt.Errorf("inference service returned %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponse))
	if err != nil {
		metrics.ObserveRemoteInference(r.pipelineID, "error", time.Since(start))
		return nil, fmt.Errorf("read inference response: %w", err)
	}
	metrics.ObserveRemoteInference(r.pipelineID, "ok", time.Since(start))

	var parsed remoteResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse inference response: %w", err)
	}

	detections := make([]Detection, 0, len(parsed.Detections))
	for _, rd := range parsed.Detections {
		if rd.Score < r.cfg.ConfidenceThreshold {
			continue
		}
		if _, skip := r.ignore[rd.Class]; skip {
			continue
		}
		d := Detection{
			Class: rd.Class,
			Score: rd.Score,
			Box:   Rect{X: rd.X, Y: rd.Y, W: rd.W, H: rd.H},
		}
		detections = append(detections, d.Centered(f.Width, f.Height))
	}
	return detections, nil
}
