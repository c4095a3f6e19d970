// SPDX-License-Identifier: MIT

// Package api exposes the daemon's HTTP surface: pipeline control, event
// and hazard queries, live snapshots, a websocket feed and config reload.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alexeybutyrev/cv2pipeline/internal/api/middleware"
	"github.com/alexeybutyrev/cv2pipeline/internal/bus"
	"github.com/alexeybutyrev/cv2pipeline/internal/cache"
	"github.com/alexeybutyrev/cv2pipeline/internal/capture"
	"github.com/alexeybutyrev/cv2pipeline/internal/config"
	"github.com/alexeybutyrev/cv2pipeline/internal/health"
	"github.com/alexeybutyrev/cv2pipeline/internal/pipeline"
	"github.com/alexeybutyrev/cv2pipeline/internal/state"
	"github.com/alexeybutyrev/cv2pipeline/internal/store"
)

// Deps bundles what the handlers need. Optional fields may be nil; the
// routes they back then answer 503.
type Deps struct {
	Manager   *pipeline.Manager
	Store     store.Store
	Snapshots *cache.Snapshots
	Bus       *bus.MemoryBus
	Offloader *capture.Offloader
	Runs      *state.Store
	Health    *health.Manager
	Config    *config.Holder
	Version   string
}

// Server is the API HTTP server.
type Server struct {
	cfg       config.APIConfig
	deps      Deps
	router    *chi.Mux
	startedAt time.Time
}

// NewServer assembles the router with the canonical middleware stack.
func NewServer(cfg config.AppConfig, deps Deps) *Server {
	s := &Server{
		cfg:       cfg.API,
		deps:      deps,
		startedAt: time.Now(),
	}

	tracingService := ""
	if cfg.Tracing.Enabled {
		tracingService = "api"
	}

	r := middleware.NewRouter(middleware.StackConfig{
		EnableCORS:            true,
		AllowedOrigins:        cfg.API.CORSOrigins,
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        tracingService,
		EnableLogging:         true,
		EnableRateLimit:       true,
		RequestsPerMinute:     cfg.API.RateLimit,
	})

	if deps.Health != nil {
		r.Get("/healthz", deps.Health.ServeHealth)
		r.Get("/readyz", deps.Health.ServeReady)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireToken(cfg.API.Token))

		r.Get("/status", s.handleStatus)

		r.Get("/pipelines", s.handlePipelineList)
		r.Route("/pipelines/{id}", func(r chi.Router) {
			r.Get("/", s.handlePipelineStatus)
			r.With(middleware.ControlRateLimit()).Post("/start", s.handlePipelineStart)
			r.With(middleware.ControlRateLimit()).Post("/stop", s.handlePipelineStop)
			r.Get("/tracks", s.handleTracks)
			r.Get("/events", s.handleEvents)
			r.Get("/hazards", s.handleHazards)
			r.Get("/snapshot.jpg", s.handleSnapshot)
		})

		r.Get("/events", s.handleEvents)
		r.Get("/hazards", s.handleHazards)
		r.Get("/stats/classes", s.handleClassStats)

		r.Get("/runs", s.handleRunList)
		r.Get("/runs/{runID}", s.handleRun)

		r.With(middleware.ControlRateLimit()).Post("/config/reload", s.handleConfigReload)
		r.Get("/evidence/presign", s.handlePresign)

		r.Get("/feed", s.handleFeed)
	})

	s.router = r
	return s
}

// Handler returns the assembled root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}
