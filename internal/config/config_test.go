// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHelpers(t *testing.T) {
	t.Setenv("CVP_TEST_STR", "hello")
	t.Setenv("CVP_TEST_INT", "42")
	t.Setenv("CVP_TEST_BAD_INT", "forty-two")
	t.Setenv("CVP_TEST_BOOL", "yes")
	t.Setenv("CVP_TEST_DUR", "1500ms")
	t.Setenv("CVP_TEST_FLOAT", "0.25")
	t.Setenv("CVP_TEST_EMPTY", "")

	assert.Equal(t, "hello", ParseString("CVP_TEST_STR", "x"))
	assert.Equal(t, "x", ParseString("CVP_TEST_MISSING", "x"))
	assert.Equal(t, "x", ParseString("CVP_TEST_EMPTY", "x"))

	assert.Equal(t, 42, ParseInt("CVP_TEST_INT", 1))
	assert.Equal(t, 1, ParseInt("CVP_TEST_BAD_INT", 1))

	assert.True(t, ParseBool("CVP_TEST_BOOL", false))
	assert.False(t, ParseBool("CVP_TEST_MISSING", false))

	assert.Equal(t, 1500*time.Millisecond, ParseDuration("CVP_TEST_DUR", time.Second))
	assert.Equal(t, time.Second, ParseDuration("CVP_TEST_MISSING", time.Second))

	assert.InDelta(t, 0.25, ParseFloat("CVP_TEST_FLOAT", 0.5), 1e-9)
	assert.InDelta(t, 0.5, ParseFloat("CVP_TEST_MISSING", 0.5), 1e-9)
}

const sampleYAML = `
log:
  level: debug
dataDir: /var/lib/cvp
storage:
  driver: sqlite
  path: /var/lib/cvp/events.db
  retentionDays: 7
pipelines:
  - id: dock
    autostart: true
    source:
      type: stream
      url: rtsp://cam/live
      width: 960
      height: 540
      format: bgr
    detector:
      type: motion
      blurRadius: 3
      dilateRadius: 7
    tracker:
      hazard_pairs:
        - [forklift, person]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoaderFileAndDefaults(t *testing.T) {
	cfg, err := NewLoader(writeConfig(t, sampleYAML)).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/var/lib/cvp", cfg.DataDir)
	assert.Equal(t, ":8080", cfg.API.Listen, "defaults survive the file layer")
	assert.Equal(t, 7, cfg.Storage.RetentionDays)

	require.Len(t, cfg.Pipelines, 1)
	p := cfg.Pipelines[0]
	assert.Equal(t, "dock", p.ID)
	assert.True(t, p.Autostart)
	assert.Equal(t, 64, p.RingSize, "pipeline defaults applied")
	assert.Equal(t, "motion", p.Detector.Type)
	assert.Equal(t, 3, p.Detector.BlurRadius)
	assert.Equal(t, 7, p.Detector.DilateRadius)
	assert.Equal(t, [][2]string{{"forklift", "person"}}, p.Tracker.HazardPairs)
}

func TestLoaderEnvWins(t *testing.T) {
	t.Setenv("CVP_LOG_LEVEL", "warn")
	t.Setenv("CVP_API_LISTEN", ":9999")
	t.Setenv("CVP_STORAGE_RETENTION_DAYS", "30")

	cfg, err := NewLoader(writeConfig(t, sampleYAML)).Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, ":9999", cfg.API.Listen)
	assert.Equal(t, 30, cfg.Storage.RetentionDays)
}

func TestLoaderEnvOnly(t *testing.T) {
	t.Setenv("CVP_DATA_DIR", "/data/cvp")
	cfg, err := NewLoader("").Load()
	require.NoError(t, err)
	assert.Equal(t, "/data/cvp", cfg.DataDir)
}

func TestLoaderBadYAML(t *testing.T) {
	_, err := NewLoader(writeConfig(t, ":\nnot yaml::")).Load()
	assert.Error(t, err)
}

func validPipeline() PipelineConfig {
	p := PipelineConfig{
		ID: "dock",
		Source: SourceConfig{
			Type: "file", URL: "/data/clip.mp4",
		},
	}
	PipelineDefaults(&p)
	return p
}

func TestValidate(t *testing.T) {
	base := Defaults()
	base.Pipelines = []PipelineConfig{validPipeline()}
	require.NoError(t, Validate(base))

	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"bad storage driver", func(c *AppConfig) { c.Storage.Driver = "mongo" }},
		{"postgres without host", func(c *AppConfig) { c.Storage.Driver = "postgres" }},
		{"bad cache driver", func(c *AppConfig) { c.Cache.Driver = "memcached" }},
		{"redis without addr", func(c *AppConfig) { c.Cache.Driver = "redis" }},
		{"offload without bucket", func(c *AppConfig) { c.Offload.Enabled = true; c.Offload.Endpoint = "minio:9000" }},
		{"duplicate pipeline ids", func(c *AppConfig) {
			c.Pipelines = append(c.Pipelines, validPipeline())
		}},
		{"pipeline without id", func(c *AppConfig) { c.Pipelines[0].ID = "" }},
		{"pipeline id with slash", func(c *AppConfig) { c.Pipelines[0].ID = "a/b" }},
		{"bad source type", func(c *AppConfig) { c.Pipelines[0].Source.Type = "webcam" }},
		{"file source without url", func(c *AppConfig) { c.Pipelines[0].Source.URL = "" }},
		{"bad dimensions", func(c *AppConfig) { c.Pipelines[0].Source.Width = -1 }},
		{"bad format", func(c *AppConfig) { c.Pipelines[0].Source.Format = "yuv" }},
		{"negative skip", func(c *AppConfig) { c.Pipelines[0].Source.SkipFrames = -1 }},
		{"bad detector", func(c *AppConfig) { c.Pipelines[0].Detector.Type = "yolo" }},
		{"canned without recording", func(c *AppConfig) { c.Pipelines[0].Detector.Type = "canned" }},
		{"remote without endpoint", func(c *AppConfig) { c.Pipelines[0].Detector.Type = "remote" }},
		{"threshold out of range", func(c *AppConfig) { c.Pipelines[0].Detector.Threshold = 2 }},
		{"hazard pair unknown class", func(c *AppConfig) {
			c.Pipelines[0].Classes = map[string]ClassConfig{"person": {}}
			c.Pipelines[0].Tracker.HazardPairs = [][2]string{{"person", "forklift"}}
		}},
		{"capture without dir", func(c *AppConfig) { c.Pipelines[0].Capture.Enabled = true }},
		{"encode without path", func(c *AppConfig) { c.Pipelines[0].Encode.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Pipelines = []PipelineConfig{validPipeline()}
			tt.mutate(&cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestValidateTestSourceNeedsNoURL(t *testing.T) {
	cfg := Defaults()
	p := validPipeline()
	p.Source.Type = "test"
	p.Source.URL = ""
	cfg.Pipelines = []PipelineConfig{p}
	assert.NoError(t, Validate(cfg))
}

func TestHolderReloadKeepsOldOnInvalid(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	loader := NewLoader(path)
	initial, err := loader.Load()
	require.NoError(t, err)
	require.NoError(t, Validate(initial))

	h := NewHolder(initial, loader)

	// Break the file: duplicate pipeline ids.
	broken := sampleYAML + `
  - id: dock
    source:
      type: test
      width: 32
      height: 32
      format: gray
`
	require.NoError(t, os.WriteFile(path, []byte(broken), 0o644))

	err = h.Reload(t.Context())
	require.Error(t, err)
	assert.Len(t, h.Get().Pipelines, 1, "old config kept")
}

func TestHolderReloadNotifiesListeners(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	loader := NewLoader(path)
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewHolder(initial, loader)
	ch := make(chan AppConfig, 1)
	h.RegisterListener(ch)

	updated := sampleYAML + "\nffmpeg: /opt/ffmpeg/bin/ffmpeg\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	require.NoError(t, h.Reload(t.Context()))

	select {
	case got := <-ch:
		assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", got.FFmpeg)
	default:
		t.Fatal("listener not notified")
	}
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", h.Get().FFmpeg)
}

func TestHolderWatcherReloads(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	loader := NewLoader(path)
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewHolder(initial, loader)
	require.NoError(t, h.StartWatcher(t.Context()))
	defer h.Stop()

	updated := sampleYAML + "\nffmpeg: /usr/local/bin/ffmpeg\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		return h.Get().FFmpeg == "/usr/local/bin/ffmpeg"
	}, 5*time.Second, 50*time.Millisecond)
}
