// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alexeybutyrev/cv2pipeline/internal/cache"
	"github.com/alexeybutyrev/cv2pipeline/internal/pipeline"
	"github.com/alexeybutyrev/cv2pipeline/internal/state"
)

var (
	errStoreUnavailable   = errors.New("event store not configured")
	errCacheUnavailable   = errors.New("snapshot cache not configured")
	errOffloadUnavailable = errors.New("evidence offload not configured")
	errReloadUnavailable  = errors.New("config reload not available")
	errManagerUnavailable = errors.New("pipeline manager not available")
)

// statusResponse is the /status document.
type statusResponse struct {
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Pipelines []pipeline.Status `json:"pipelines"`
	Cache     *cache.Stats      `json:"cache,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version: s.deps.Version,
		Uptime:  time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.deps.Manager != nil {
		resp.Pipelines = s.deps.Manager.List()
	}
	if s.deps.Snapshots != nil {
		stats := s.deps.Snapshots.Stats()
		resp.Cache = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePipelineList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Manager == nil {
		writeServiceUnavailable(w, errManagerUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Manager.List())
}

func (s *Server) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Manager == nil {
		writeServiceUnavailable(w, errManagerUnavailable)
		return
	}
	status, err := s.deps.Manager.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handlePipelineStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Manager == nil {
		writeServiceUnavailable(w, errManagerUnavailable)
		return
	}
	rec, err := s.deps.Manager.Start(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		writeConflict(w, err)
	case errors.Is(err, pipeline.ErrUnknownPipeline):
		writeNotFound(w, err)
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
	default:
		writeJSON(w, http.StatusAccepted, rec)
	}
}

func (s *Server) handlePipelineStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Manager == nil {
		writeServiceUnavailable(w, errManagerUnavailable)
		return
	}
	id := chi.URLParam(r, "id")
	err := s.deps.Manager.Stop(r.Context(), id)
	switch {
	case errors.Is(err, pipeline.ErrNotRunning):
		writeConflict(w, err)
	case errors.Is(err, pipeline.ErrUnknownPipeline):
		writeNotFound(w, err)
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
	default:
		status, _ := s.deps.Manager.Status(id)
		writeJSON(w, http.StatusOK, status)
	}
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Manager == nil {
		writeServiceUnavailable(w, errManagerUnavailable)
		return
	}
	tracks, err := s.deps.Manager.Tracks(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, pipeline.ErrUnknownPipeline):
		writeNotFound(w, err)
	case errors.Is(err, pipeline.ErrNotRunning):
		// A stopped pipeline simply has no tracks.
		writeJSON(w, http.StatusOK, []pipeline.TrackView{})
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
	default:
		writeJSON(w, http.StatusOK, tracks)
	}
}

// parseLimit reads the limit query parameter. The store clamps further.
func parseLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return 0
}

// pipelineIDParam fetches the pipeline id from the route, or from the query
// for the unscoped routes.
func pipelineIDParam(r *http.Request) string {
	if id := chi.URLParam(r, "id"); id != "" {
		return id
	}
	return r.URL.Query().Get("pipeline")
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeServiceUnavailable(w, errStoreUnavailable)
		return
	}
	events, err := s.deps.Store.RecentEvents(r.Context(), pipelineIDParam(r), parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHazards(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeServiceUnavailable(w, errStoreUnavailable)
		return
	}
	hazards, err := s.deps.Store.RecentHazards(r.Context(), pipelineIDParam(r), parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, hazards)
}

func (s *Server) handleClassStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeServiceUnavailable(w, errStoreUnavailable)
		return
	}
	counts, err := s.deps.Store.CountByClass(r.Context(), pipelineIDParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.deps.Snapshots == nil {
		writeServiceUnavailable(w, errCacheUnavailable)
		return
	}
	jpeg, ok := s.deps.Snapshots.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, errors.New("no snapshot available"))
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(jpeg)
}

func (s *Server) handleRunList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeServiceUnavailable(w, errors.New("run store not configured"))
		return
	}
	runs, err := s.deps.Runs.ListRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeServiceUnavailable(w, errors.New("run store not configured"))
		return
	}
	rec, err := s.deps.Runs.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeNotFound(w, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Config == nil {
		writeServiceUnavailable(w, errReloadUnavailable)
		return
	}
	if err := s.deps.Config.Reload(r.Context()); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if s.deps.Manager != nil {
		s.deps.Manager.SetConfig(s.deps.Config.Get())
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handlePresign(w http.ResponseWriter, r *http.Request) {
	if s.deps.Offloader == nil {
		writeServiceUnavailable(w, errOffloadUnavailable)
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing key parameter"))
		return
	}
	url, err := s.deps.Offloader.PresignGet(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
