// SPDX-License-Identifier: MIT

package ingest

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/alexeybutyrev/cv2pipeline/internal/log"
)

// preferredAccels is the order in which probed acceleration methods are
// tried when a pipeline requests "auto".
var preferredAccels = []string{"vaapi", "videotoolbox", "cuda"}

var (
	probeOnce   sync.Once
	probeResult []string
)

// probeHWAccels runs `ffmpeg -hwaccels` and parses the supported methods.
// Probe failure is not an error; it just means software decode.
func probeHWAccels(ctx context.Context, binPath string) []string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, binPath, "-hide_banner", "-hwaccels") // #nosec G204 -- binPath from config
	out, err := cmd.Output()
	if err != nil {
		logger := log.WithComponent("ingest")
		logger.Debug().
			Err(err).
			Str("bin", binPath).
			Msg("hwaccel probe failed, assuming software decode only")
		return nil
	}

	var accels []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "Hardware acceleration methods") {
			continue
		}
		accels = append(accels, line)
	}
	return accels
}

// DetectHWAccel resolves the configured acceleration mode to a concrete
// ffmpeg -hwaccel value. "none" and "" disable acceleration; "auto" picks
// the first preferred method the binary supports (probed once per process);
// anything else is passed through as an explicit method.
func DetectHWAccel(ctx context.Context, binPath, mode string) string {
	switch mode {
	case "", "none":
		return ""
	case "auto":
	default:
		return mode
	}

	probeOnce.Do(func() {
		probeResult = probeHWAccels(ctx, binPath)
	})

	for _, want := range preferredAccels {
		for _, have := range probeResult {
			if have == want {
				logger := log.WithComponent("ingest")
				logger.Info().
					Str("event", "ingest.hwaccel_selected").
					Str("method", want).
					Msg("hardware decode acceleration available")
				return want
			}
		}
	}
	return ""
}
