// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader produces a validated AppConfig from defaults, an optional YAML
// file, and CVP_* environment overrides, in that precedence order (env
// wins).
type Loader struct {
	// Path is the YAML file; empty means ENV-only configuration.
	Path string
}

// NewLoader creates a loader for the given config file path.
func NewLoader(path string) *Loader {
	return &Loader{Path: path}
}

// Load assembles the configuration. The result is not yet validated;
// callers run Validate before using it so reload paths can report
// validation separately from IO failures.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.Path != "" {
		data, err := os.ReadFile(l.Path) // #nosec G304 -- operator-supplied config path
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	for i := range cfg.Pipelines {
		PipelineDefaults(&cfg.Pipelines[i])
	}
	return cfg, nil
}

// applyEnv overlays CVP_* variables onto the config. Pipeline definitions
// are file-only; the env surface covers daemon-level settings.
func applyEnv(cfg *AppConfig) {
	cfg.Log.Level = ParseString("CVP_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Service = ParseString("CVP_LOG_SERVICE", cfg.Log.Service)
	cfg.DataDir = ParseString("CVP_DATA_DIR", cfg.DataDir)
	cfg.FFmpeg = ParseString("CVP_FFMPEG_BIN", cfg.FFmpeg)

	cfg.API.Listen = ParseString("CVP_API_LISTEN", cfg.API.Listen)
	cfg.API.Token = ParseString("CVP_API_TOKEN", cfg.API.Token)
	cfg.API.RateLimit = ParseInt("CVP_API_RATE_LIMIT", cfg.API.RateLimit)
	cfg.API.RateBurst = ParseInt("CVP_API_RATE_BURST", cfg.API.RateBurst)
	if v := ParseString("CVP_API_CORS_ORIGINS", ""); v != "" {
		cfg.API.CORSOrigins = splitCSV(v)
	}
	if v := ParseString("CVP_API_TRUSTED_PROXIES", ""); v != "" {
		cfg.API.TrustedProxies = splitCSV(v)
	}

	cfg.Metrics.Enabled = ParseBool("CVP_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Addr = ParseString("CVP_METRICS_ADDR", cfg.Metrics.Addr)

	cfg.Tracing.Enabled = ParseBool("CVP_TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = ParseString("CVP_TRACING_EXPORTER", cfg.Tracing.Exporter)
	cfg.Tracing.Endpoint = ParseString("CVP_TRACING_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.SampleRatio = ParseFloat("CVP_TRACING_SAMPLE_RATIO", cfg.Tracing.SampleRatio)

	cfg.Storage.Driver = ParseString("CVP_STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.Path = ParseString("CVP_STORAGE_PATH", cfg.Storage.Path)
	cfg.Storage.Host = ParseString("CVP_STORAGE_HOST", cfg.Storage.Host)
	cfg.Storage.Port = ParseString("CVP_STORAGE_PORT", cfg.Storage.Port)
	cfg.Storage.User = ParseString("CVP_STORAGE_USER", cfg.Storage.User)
	cfg.Storage.Password = ParseString("CVP_STORAGE_PASSWORD", cfg.Storage.Password)
	cfg.Storage.Name = ParseString("CVP_STORAGE_NAME", cfg.Storage.Name)
	cfg.Storage.SSLMode = ParseString("CVP_STORAGE_SSLMODE", cfg.Storage.SSLMode)
	cfg.Storage.RetentionDays = ParseInt("CVP_STORAGE_RETENTION_DAYS", cfg.Storage.RetentionDays)

	cfg.Cache.Driver = ParseString("CVP_CACHE_DRIVER", cfg.Cache.Driver)
	cfg.Cache.Addr = ParseString("CVP_CACHE_ADDR", cfg.Cache.Addr)
	cfg.Cache.Password = ParseString("CVP_CACHE_PASSWORD", cfg.Cache.Password)
	cfg.Cache.DB = ParseInt("CVP_CACHE_DB", cfg.Cache.DB)

	cfg.Offload.Enabled = ParseBool("CVP_OFFLOAD_ENABLED", cfg.Offload.Enabled)
	cfg.Offload.Endpoint = ParseString("CVP_OFFLOAD_ENDPOINT", cfg.Offload.Endpoint)
	cfg.Offload.Bucket = ParseString("CVP_OFFLOAD_BUCKET", cfg.Offload.Bucket)
	cfg.Offload.AccessKey = ParseString("CVP_OFFLOAD_ACCESS_KEY", cfg.Offload.AccessKey)
	cfg.Offload.SecretKey = ParseString("CVP_OFFLOAD_SECRET_KEY", cfg.Offload.SecretKey)
	cfg.Offload.UseSSL = ParseBool("CVP_OFFLOAD_USE_SSL", cfg.Offload.UseSSL)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
