// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"strings"
)

var validFormats = map[string]bool{"gray": true, "bgr": true}
var validSourceTypes = map[string]bool{"file": true, "stream": true, "test": true}
var validDetectors = map[string]bool{"motion": true, "canned": true, "remote": true}

// Validate checks the full configuration. Reload paths call it before
// swapping, so a bad edit can never take a running daemon down.
func Validate(cfg AppConfig) error {
	switch cfg.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "postgres" {
		if cfg.Storage.Host == "" || cfg.Storage.User == "" || cfg.Storage.Name == "" {
			return fmt.Errorf("postgres storage requires host, user and name")
		}
	}
	if cfg.Storage.RetentionDays < 0 {
		return fmt.Errorf("storage.retentionDays must not be negative")
	}

	switch cfg.Cache.Driver {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("cache.driver must be memory, redis or none, got %q", cfg.Cache.Driver)
	}
	if cfg.Cache.Driver == "redis" && cfg.Cache.Addr == "" {
		return fmt.Errorf("redis cache requires addr")
	}

	if cfg.Offload.Enabled {
		if cfg.Offload.Endpoint == "" || cfg.Offload.Bucket == "" {
			return fmt.Errorf("offload requires endpoint and bucket")
		}
	}

	seen := make(map[string]bool, len(cfg.Pipelines))
	for i, p := range cfg.Pipelines {
		if err := validatePipeline(p); err != nil {
			return fmt.Errorf("pipeline[%d] %q: %w", i, p.ID, err)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate pipeline id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

func validatePipeline(p PipelineConfig) error {
	if p.ID == "" {
		return fmt.Errorf("missing id")
	}
	if strings.ContainsAny(p.ID, "/\\ ") {
		return fmt.Errorf("id must not contain slashes or spaces")
	}

	if !validSourceTypes[p.Source.Type] {
		return fmt.Errorf("source.type must be file, stream or test, got %q", p.Source.Type)
	}
	if p.Source.Type != "test" && p.Source.URL == "" {
		return fmt.Errorf("source.url is required for %s sources", p.Source.Type)
	}
	if p.Source.Width <= 0 || p.Source.Height <= 0 {
		return fmt.Errorf("source dimensions must be positive, got %dx%d", p.Source.Width, p.Source.Height)
	}
	if !validFormats[p.Source.Format] {
		return fmt.Errorf("source.format must be gray or bgr, got %q", p.Source.Format)
	}
	if p.Source.SkipFrames < 0 {
		return fmt.Errorf("source.skipFrames must not be negative")
	}

	if !validDetectors[p.Detector.Type] {
		return fmt.Errorf("detector.type must be motion, canned or remote, got %q", p.Detector.Type)
	}
	switch p.Detector.Type {
	case "canned":
		if p.Detector.RecordingPath == "" {
			return fmt.Errorf("canned detector requires recordingPath")
		}
	case "remote":
		if p.Detector.Endpoint == "" {
			return fmt.Errorf("remote detector requires endpoint")
		}
		if p.Detector.ConfidenceThreshold < 0 || p.Detector.ConfidenceThreshold > 1 {
			return fmt.Errorf("confidenceThreshold must be in [0,1]")
		}
	case "motion":
		if p.Detector.ScaleFactor < 0 || p.Detector.ScaleFactor > 1 {
			return fmt.Errorf("scaleFactor must be in (0,1]")
		}
		if p.Detector.Threshold < 0 || p.Detector.Threshold > 1 {
			return fmt.Errorf("threshold must be in [0,1]")
		}
	}

	if p.Tracker.DistThreshold < 0 || p.Tracker.DistThreshold > 1 {
		return fmt.Errorf("tracker.dist_threshold must be in [0,1]")
	}
	if p.Tracker.HazardDistance < 0 || p.Tracker.HazardDistance > 1 {
		return fmt.Errorf("tracker.hazard_distance must be in [0,1]")
	}
	for _, pair := range p.Tracker.HazardPairs {
		for _, class := range pair {
			if class == "" {
				return fmt.Errorf("hazard pair references empty class")
			}
			if len(p.Classes) > 0 {
				if _, ok := p.Classes[class]; !ok {
					return fmt.Errorf("hazard pair references unknown class %q", class)
				}
			}
		}
	}

	if p.Capture.Enabled && p.Capture.Dir == "" {
		return fmt.Errorf("capture requires dir")
	}
	if p.Capture.Quality < 0 || p.Capture.Quality > 100 {
		return fmt.Errorf("capture.quality must be in [1,100]")
	}
	if p.Encode.Enabled && p.Encode.Path == "" {
		return fmt.Errorf("encode requires path")
	}
	return nil
}
