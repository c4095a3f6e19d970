// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/alexeybutyrev/cv2pipeline/internal/config"
	"github.com/alexeybutyrev/cv2pipeline/internal/telemetry"
)

// InitTelemetry initializes OpenTelemetry tracing from the app config. The
// returned provider's Shutdown should be registered as a shutdown hook.
// A disabled config yields a provider backed by a no-op tracer.
func InitTelemetry(ctx context.Context, cfg config.TracingConfig, version string, logger zerolog.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.NewProvider(ctx, cfg, version)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}

	if cfg.Enabled {
		logger.Info().
			Str("event", "telemetry.initialized").
			Str("exporter", cfg.Exporter).
			Str("endpoint", cfg.Endpoint).
			Float64("sample_ratio", cfg.SampleRatio).
			Msg("Telemetry initialized")
	}

	return provider, nil
}

// WaitForShutdown returns a context cancelled on interrupt or termination
// signals.
func WaitForShutdown() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}
