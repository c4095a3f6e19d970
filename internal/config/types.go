// SPDX-License-Identifier: MIT

// Package config defines the daemon configuration model and its layered
// loading: built-in defaults, then the YAML file, then CVP_* environment
// variables. Hot reload swaps a validated config atomically or not at all.
package config

import (
	"time"

	"github.com/alexeybutyrev/cv2pipeline/internal/track"
)

// LogConfig controls the zerolog setup.
type LogConfig struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// APIConfig controls the HTTP listener.
type APIConfig struct {
	Listen         string   `yaml:"listen"`
	Token          string   `yaml:"token"`
	RateLimit      int      `yaml:"rateLimit"`      // requests per minute per client
	RateBurst      int      `yaml:"rateBurst"`      // burst above the sustained rate
	CORSOrigins    []string `yaml:"corsOrigins"`
	TrustedProxies []string `yaml:"trustedProxies"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig controls the OTel provider.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // otlp-grpc | otlp-http | none
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

// StorageConfig selects the event store backend.
type StorageConfig struct {
	Driver        string `yaml:"driver"` // sqlite | postgres
	Path          string `yaml:"path"`   // sqlite file
	Host          string `yaml:"host"`
	Port          string `yaml:"port"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	Name          string `yaml:"name"`
	SSLMode       string `yaml:"sslMode"`
	RetentionDays int    `yaml:"retentionDays"`
}

// CacheConfig selects the snapshot cache backend.
type CacheConfig struct {
	Driver   string `yaml:"driver"` // memory | redis | none
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// OffloadConfig controls S3-compatible evidence offload.
type OffloadConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
}

// SourceConfig describes where a pipeline's frames come from.
type SourceConfig struct {
	Type   string  `yaml:"type"` // file | stream | test
	URL    string  `yaml:"url"`
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	Format string  `yaml:"format"` // gray | bgr
	FPS    float64 `yaml:"fps"`
	Loop   bool    `yaml:"loop"`
	// Realtime throttles file reads to their native rate.
	Realtime   bool   `yaml:"realtime"`
	SkipFrames int    `yaml:"skipFrames"`
	HWAccel    string `yaml:"hwaccel"` // none | auto | explicit method
}

// DetectorConfig selects and tunes the frame processor.
type DetectorConfig struct {
	Type string `yaml:"type"` // motion | canned | remote

	// Motion parameters.
	ScaleFactor  float64 `yaml:"scaleFactor"`
	Threshold    float64 `yaml:"threshold"`
	MinArea      int     `yaml:"minArea"`
	Memory       float64 `yaml:"memory"`
	BlurRadius   int     `yaml:"blurRadius"`
	DilateRadius int     `yaml:"dilateRadius"`
	FullFrame    bool    `yaml:"fullFrame"`

	// Canned replay parameters.
	RecordingPath string `yaml:"recordingPath"`
	ReplayLoop    bool   `yaml:"replayLoop"`

	// Remote inference parameters.
	Endpoint            string        `yaml:"endpoint"`
	Token               string        `yaml:"token"`
	ConfidenceThreshold float64       `yaml:"confidenceThreshold"`
	IgnoreClasses       []string      `yaml:"ignoreClasses"`
	Timeout             time.Duration `yaml:"timeout"`
}

// CaptureConfig controls evidence persistence.
type CaptureConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	Quality int    `yaml:"quality"`
	// KeepRaw also saves the unannotated source frame.
	KeepRaw bool `yaml:"keepRaw"`
	// OnHazardOnly restricts evidence to hazard events.
	OnHazardOnly bool `yaml:"onHazardOnly"`
}

// EncodeConfig controls the annotated movie writer.
type EncodeConfig struct {
	Enabled bool    `yaml:"enabled"`
	Path    string  `yaml:"path"`
	FPS     float64 `yaml:"fps"`
	CRF     int     `yaml:"crf"`
}

// ClassConfig customises one object class.
type ClassConfig struct {
	Label      string   `yaml:"label"`
	Color      [3]uint8 `yaml:"color"` // BGR
	VertOffset float64  `yaml:"vertOffset"`
}

// PipelineConfig fully describes one processing pipeline.
type PipelineConfig struct {
	ID        string `yaml:"id"`
	Autostart bool   `yaml:"autostart"`

	// RingSize is the frame buffer capacity shared by all readers.
	RingSize int `yaml:"ringSize"`

	Source   SourceConfig           `yaml:"source"`
	Detector DetectorConfig         `yaml:"detector"`
	Tracker  track.Config           `yaml:"tracker"`
	Capture  CaptureConfig          `yaml:"capture"`
	Encode   EncodeConfig           `yaml:"encode"`
	Classes  map[string]ClassConfig `yaml:"classes"`
}

// AppConfig is the root configuration document.
type AppConfig struct {
	Log     LogConfig     `yaml:"log"`
	DataDir string        `yaml:"dataDir"`
	FFmpeg  string        `yaml:"ffmpeg"` // binary path
	API     APIConfig     `yaml:"api"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Offload OffloadConfig `yaml:"offload"`

	Pipelines []PipelineConfig `yaml:"pipelines"`
}

// Defaults returns the built-in configuration baseline.
func Defaults() AppConfig {
	return AppConfig{
		Log:     LogConfig{Level: "info", Service: "cv2pipeline"},
		DataDir: "./data",
		FFmpeg:  "ffmpeg",
		API: APIConfig{
			Listen:    ":8080",
			RateLimit: 600,
			RateBurst: 100,
		},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9090"},
		Tracing: TracingConfig{Exporter: "none", SampleRatio: 0.1},
		Storage: StorageConfig{Driver: "sqlite", RetentionDays: 14, SSLMode: "disable", Port: "5432"},
		Cache:   CacheConfig{Driver: "memory"},
	}
}

// PipelineDefaults fills unset pipeline fields in place.
func PipelineDefaults(p *PipelineConfig) {
	if p.RingSize <= 0 {
		p.RingSize = 64
	}
	if p.Source.Type == "" {
		p.Source.Type = "file"
	}
	if p.Source.Format == "" {
		p.Source.Format = "bgr"
	}
	if p.Source.Width <= 0 {
		p.Source.Width = 640
	}
	if p.Source.Height <= 0 {
		p.Source.Height = 360
	}
	if p.Detector.Type == "" {
		p.Detector.Type = "motion"
	}
	if p.Capture.Quality <= 0 {
		p.Capture.Quality = 85
	}
}

// Pipeline returns the pipeline config with the given id.
func (c AppConfig) Pipeline(id string) (PipelineConfig, bool) {
	for _, p := range c.Pipelines {
		if p.ID == id {
			return p, true
		}
	}
	return PipelineConfig{}, false
}
