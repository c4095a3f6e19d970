// SPDX-License-Identifier: MIT

package health

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/alexeybutyrev/cv2pipeline/internal/config"
	"github.com/alexeybutyrev/cv2pipeline/internal/log"
)

// PerformStartupChecks validates the runtime environment before the daemon
// starts serving. It fails fast on misconfiguration that would otherwise
// surface as confusing runtime errors.
func PerformStartupChecks(cfg config.AppConfig) error {
	logger := log.WithComponent("startup")

	if err := checkDataDir(cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}

	if err := checkListenAddr("api", cfg.API.Listen); err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		if err := checkListenAddr("metrics", cfg.Metrics.Addr); err != nil {
			return err
		}
	}

	if err := checkCaptureDirs(cfg); err != nil {
		return err
	}

	if needsFFmpeg(cfg) {
		resolved, err := exec.LookPath(cfg.FFmpeg)
		if err != nil {
			return fmt.Errorf("ffmpeg binary %q not found in PATH: %w", cfg.FFmpeg, err)
		}
		logger.Debug().
			Str("event", "startup.ffmpeg_found").
			Str("path", resolved).
			Msg("ffmpeg binary resolved")
	} else {
		logger.Debug().
			Str("event", "startup.ffmpeg_skipped").
			Msg("no pipeline needs ffmpeg, skipping binary check")
	}

	logger.Info().
		Str("event", "startup.checks_passed").
		Str("data_dir", cfg.DataDir).
		Int("pipelines", len(cfg.Pipelines)).
		Msg("startup checks passed")

	return nil
}

// checkDataDir ensures the data directory exists and is writable
func checkDataDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("data directory not configured")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create data directory %q: %w", dir, err)
	}

	probe := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(probe, []byte("probe"), 0o644); err != nil {
		return fmt.Errorf("data directory %q not writable: %w", dir, err)
	}
	if err := os.Remove(probe); err != nil {
		logger := log.WithComponent("startup")
		logger.Warn().
			Err(err).
			Str("event", "startup.probe_cleanup_failed").
			Str("path", probe).
			Msg("failed to remove write probe")
	}

	return nil
}

// checkListenAddr validates a host:port listen address
func checkListenAddr(name, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s listen address not configured", name)
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid %s listen address %q: %w", name, addr, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid %s listen port %q: must be 1-65535", name, portStr)
	}

	// Empty host binds all interfaces; a hostname is resolved at listen time.
	_ = host

	return nil
}

// checkCaptureDirs pre-creates evidence directories so capture failures do
// not surface only on the first hazard.
func checkCaptureDirs(cfg config.AppConfig) error {
	for _, pl := range cfg.Pipelines {
		if !pl.Capture.Enabled || pl.Capture.Dir == "" {
			continue
		}
		if err := os.MkdirAll(pl.Capture.Dir, 0o755); err != nil {
			return fmt.Errorf("cannot create capture directory %q for pipeline %q: %w", pl.Capture.Dir, pl.ID, err)
		}
	}
	return nil
}

// needsFFmpeg reports whether any configured pipeline decodes real media or
// encodes output. Test sources run without ffmpeg.
func needsFFmpeg(cfg config.AppConfig) bool {
	for _, pl := range cfg.Pipelines {
		if pl.Source.Type != "test" {
			return true
		}
		if pl.Encode.Enabled {
			return true
		}
	}
	return false
}
