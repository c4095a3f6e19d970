// SPDX-License-Identifier: MIT

// Package daemon owns the process lifecycle: the HTTP servers, config
// reload wiring, the retention pruner and graceful shutdown ordering.
package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/alexeybutyrev/cv2pipeline/internal/config"
	"github.com/alexeybutyrev/cv2pipeline/internal/pipeline"
	"github.com/alexeybutyrev/cv2pipeline/internal/store"
)

const pruneInterval = time.Hour

// App owns the long-lived runtime lifecycle (watchers, reload wiring, the
// pruner) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.Holder
	pipelines    *pipeline.Manager
	eventStore   store.Store
	retention    time.Duration
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator.
func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.Holder, pipelines *pipeline.Manager, eventStore store.Store, retentionDays int) *App {
	var retention time.Duration
	if retentionDays > 0 {
		retention = time.Duration(retentionDays) * 24 * time.Hour
	}
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    cfgHolder,
		pipelines:    pipelines,
		eventStore:   eventStore,
		retention:    retention,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned background subsystems and blocks until ctx is
// cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup should not fail if the watcher
	// cannot be started.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str("event", "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		defer a.cfgHolder.Stop()
	}

	// Reload-during-runtime wiring: push every config swap into the
	// pipeline manager so the next start picks it up.
	if a.cfgHolder != nil && a.pipelines != nil {
		applyCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(applyCh)

		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					a.pipelines.SetConfig(cfg)
				}
			}
		})
	}

	// SIGHUP trigger for manual reload.
	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str("event", "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")

					if err := a.cfgHolder.Reload(context.Background()); err != nil {
						a.logger.Warn().
							Err(err).
							Str("event", "config.reload_failed").
							Msg("config reload failed")
					}
				}
			}
		})
	}

	// Retention pruner (stops via ctx).
	if a.eventStore != nil && a.retention > 0 {
		g.Go(func() error {
			a.runPruner(ctx)
			return nil
		})
	}

	// Autostart pipelines once the runtime is up.
	if a.pipelines != nil {
		a.pipelines.Autostart(ctx)
	}

	// Main server lifecycle.
	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// runPruner deletes events past the retention window, once at startup and
// then hourly.
func (a *App) runPruner(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	a.pruneOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.pruneOnce(ctx)
		}
	}
}

func (a *App) pruneOnce(ctx context.Context) {
	cutoff := time.Now().Add(-a.retention)
	removed, err := a.eventStore.Prune(ctx, cutoff)
	if err != nil {
		a.logger.Warn().
			Err(err).
			Str("event", "store.prune_failed").
			Msg("event store prune failed")
		return
	}
	if removed > 0 {
		a.logger.Info().
			Str("event", "store.pruned").
			Int64("rows", removed).
			Time("cutoff", cutoff).
			Msg("pruned expired events")
	}
}
