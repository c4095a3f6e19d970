// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/alexeybutyrev/cv2pipeline/internal/api"
	"github.com/alexeybutyrev/cv2pipeline/internal/bus"
	"github.com/alexeybutyrev/cv2pipeline/internal/cache"
	"github.com/alexeybutyrev/cv2pipeline/internal/capture"
	"github.com/alexeybutyrev/cv2pipeline/internal/config"
	"github.com/alexeybutyrev/cv2pipeline/internal/daemon"
	"github.com/alexeybutyrev/cv2pipeline/internal/health"
	cvplog "github.com/alexeybutyrev/cv2pipeline/internal/log"
	"github.com/alexeybutyrev/cv2pipeline/internal/pipeline"
	"github.com/alexeybutyrev/cv2pipeline/internal/state"
	"github.com/alexeybutyrev/cv2pipeline/internal/store"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(runHealthcheckCLI(os.Args[2:]))
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Local developer overrides; missing file is fine.
	_ = godotenv.Load()

	// Configure logger with safe defaults until config is loaded.
	cvplog.Configure(cvplog.Config{
		Level:   "info",
		Service: "cv2pipeline",
	})
	logger := cvplog.WithComponent("daemon")

	ctx := daemon.WaitForShutdown()

	// Determine config path: explicit via --config, otherwise auto-load
	// ${CVP_DATA_DIR}/config.yaml if it exists.
	effectiveConfigPath := strings.TrimSpace(*configPath)
	if effectiveConfigPath == "" {
		dataDir := strings.TrimSpace(config.ParseString("CVP_DATA_DIR", "/var/lib/cv2pipeline"))
		autoPath := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(autoPath); err == nil {
			effectiveConfigPath = autoPath
		}
	}

	// Load configuration with precedence: ENV > File > Defaults.
	loader := config.NewLoader(effectiveConfigPath)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	if effectiveConfigPath != "" {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", effectiveConfigPath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	// Pre-flight checks (fail fast).
	if err := health.PerformStartupChecks(cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("Startup checks failed. Please verify configuration and permissions.")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.API.Listen).
		Msg("starting cv2pipeline")

	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)
	logger.Info().Msgf("→ Pipelines: %d configured", len(cfg.Pipelines))
	if cfg.API.Token != "" {
		logger.Info().Msg("→ API token: configured")
	} else {
		logger.Warn().
			Str("security", "weak").
			Msg("→ API token: NOT configured (Auth Disabled). Set CVP_API_TOKEN for security.")
	}

	// Telemetry, torn down with the manager.
	telemetryProvider, err := daemon.InitTelemetry(ctx, cfg.Tracing, version, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Telemetry initialization failed, continuing without tracing")
	}

	// Event store.
	eventStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "store.open_failed").
			Str("driver", cfg.Storage.Driver).
			Msg("failed to open event store")
	}

	// Run records share the data dir.
	runs, err := state.Open(filepath.Join(cfg.DataDir, "runs.db"))
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "state.open_failed").
			Msg("failed to open run store")
	}

	// Snapshot cache.
	snapCache, cacheClose := openCache(cfg, logger)
	snapshots := cache.NewSnapshots(snapCache)

	// Evidence offload is optional.
	var offloader *capture.Offloader
	if cfg.Offload.Enabled {
		offloader, err = capture.NewOffloader(ctx, capture.OffloadConfig{
			Endpoint:  cfg.Offload.Endpoint,
			AccessKey: cfg.Offload.AccessKey,
			SecretKey: cfg.Offload.SecretKey,
			Bucket:    cfg.Offload.Bucket,
			UseSSL:    cfg.Offload.UseSSL,
		})
		if err != nil {
			logger.Fatal().
				Err(err).
				Str("event", "offload.init_failed").
				Msg("failed to initialize evidence offload")
		}
		logger.Info().Msgf("→ Evidence offload: %s/%s", cfg.Offload.Endpoint, cfg.Offload.Bucket)
	}

	eventBus := bus.NewMemoryBus()

	pipelines := pipeline.NewManager(ctx, cfg, pipeline.Sinks{
		Store:     eventStore,
		Offloader: offloader,
		Bus:       eventBus,
		Snapshots: snapshots,
	}, runs)

	// Hot reload support: watch config file and allow SIGHUP/API-triggered
	// reload.
	holderPath := effectiveConfigPath
	if holderPath == "" {
		holderPath = filepath.Join(cfg.DataDir, "config.yaml")
	}
	cfgHolder := config.NewHolder(cfg, config.NewLoader(holderPath))

	// Health surface.
	healthMgr := health.NewManager(version)
	healthMgr.RegisterChecker(health.NewDirChecker("data_dir", cfg.DataDir))
	if effectiveConfigPath != "" {
		healthMgr.RegisterChecker(health.NewFileChecker("config_file", effectiveConfigPath))
	}
	healthMgr.RegisterChecker(health.NewStoreChecker("event_store", eventStore))
	healthMgr.RegisterChecker(health.NewFFmpegChecker("ffmpeg", cfg.FFmpeg))
	healthMgr.RegisterChecker(health.NewLastEventChecker("frame_flow", 2*time.Minute, pipelines.LastActivity))

	apiServer := api.NewServer(cfg, api.Deps{
		Manager:   pipelines,
		Store:     eventStore,
		Snapshots: snapshots,
		Bus:       eventBus,
		Offloader: offloader,
		Runs:      runs,
		Health:    healthMgr,
		Config:    cfgHolder,
		Version:   version,
	})

	metricsAddr := ""
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsAddr = strings.TrimSpace(cfg.Metrics.Addr)
		if metricsAddr == "" {
			metricsAddr = ":9090"
		}
		metricsHandler = promhttp.Handler()
	}

	deps := daemon.Deps{
		Logger:         logger,
		Config:         cfg,
		APIHandler:     apiServer.Handler(),
		MetricsHandler: metricsHandler,
		Pipelines:      pipelines,
		Store:          eventStore,
	}

	mgr, err := daemon.NewManager(daemon.ServerConfig{
		ListenAddr:  cfg.API.Listen,
		MetricsAddr: metricsAddr,
	}, deps)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "manager.creation.failed").
			Msg("failed to create daemon manager")
	}

	mgr.RegisterShutdownHook("run-store", func(context.Context) error {
		return runs.Close()
	})
	if cacheClose != nil {
		mgr.RegisterShutdownHook("cache", func(context.Context) error {
			return cacheClose()
		})
	}
	if telemetryProvider != nil {
		mgr.RegisterShutdownHook("telemetry", telemetryProvider.Shutdown)
	}

	app := daemon.NewApp(logger, mgr, cfgHolder, pipelines, eventStore, cfg.Storage.RetentionDays)
	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon app failed")
	}

	logger.Info().Msg("server exiting")
}

// openStore selects the event store backend from the configuration.
func openStore(ctx context.Context, cfg config.AppConfig) (store.Store, error) {
	switch cfg.Storage.Driver {
	case "", "sqlite":
		path := cfg.Storage.Path
		if path == "" {
			path = filepath.Join(cfg.DataDir, "events.db")
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.OpenPostgres(ctx, store.PostgresConfig{
			Host:     cfg.Storage.Host,
			Port:     cfg.Storage.Port,
			User:     cfg.Storage.User,
			Password: cfg.Storage.Password,
			Name:     cfg.Storage.Name,
			SSLMode:  cfg.Storage.SSLMode,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// openCache selects the snapshot cache backend. The returned close func is
// nil for backends without external resources.
func openCache(cfg config.AppConfig, logger zerolog.Logger) (cache.Cache, func() error) {
	switch cfg.Cache.Driver {
	case "", "memory":
		return cache.NewMemory(time.Minute), nil
	case "redis":
		c, err := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		}, logger)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("event", "cache.redis_unavailable").
				Msg("redis cache unavailable, falling back to memory")
			return cache.NewMemory(time.Minute), nil
		}
		return c, c.Close
	case "none":
		return cache.NewNoOp(), nil
	default:
		logger.Warn().
			Str("event", "cache.unknown_driver").
			Str("driver", cfg.Cache.Driver).
			Msg("unknown cache driver, using memory")
		return cache.NewMemory(time.Minute), nil
	}
}
