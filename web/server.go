// ABOUTME: HTTP API for storyboard runs, scenes, and artifacts behind a chi router.
// ABOUTME: Story runs execute asynchronously; engine events stream to clients over SSE.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389-research/storyboard/pipeline"
	"github.com/2389-research/storyboard/store"
)

// RunnerFactory builds a story runner whose engine reports events to the
// given handler. Each run gets its own runner so event streams stay separate.
type RunnerFactory func(handler func(pipeline.Event)) *pipeline.Runner

// Server is the storyboard HTTP API.
type Server struct {
	store     *store.Store
	newRunner RunnerFactory
	registry  *RunRegistry
	router    chi.Router
	addr      string
}

// ServerConfig holds the web server configuration.
type ServerConfig struct {
	Addr string // listen address (default: "127.0.0.1:7780")
}

// NewServer creates the API server around an artifact store and runner factory.
func NewServer(st *store.Store, factory RunnerFactory, cfg ServerConfig) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:7780"
	}
	s := &Server{
		store:     st,
		newRunner: factory,
		registry:  NewRunRegistry(),
		addr:      cfg.Addr,
	}
	s.router = s.buildRouter()
	return s
}

// Router exposes the chi router, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe starts serving on the configured address.
func (s *Server) ListenAndServe() error {
	log.Printf("component=web action=listen addr=%s", s.addr)
	return http.ListenAndServe(s.addr, s.router)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.handleRunStart)
			r.Get("/{runID}", s.handleRunState)
			r.Get("/{runID}/events", s.handleRunEvents)
			r.Post("/{runID}/cancel", s.handleRunCancel)
		})

		r.Get("/stories/{storyID}/scenes", s.handleStoryScenes)

		r.Route("/scenes/{sceneID}", func(r chi.Router) {
			r.Get("/", s.handleSceneGet)
			r.Get("/artifacts", s.handleSceneArtifacts)
			r.Get("/artifacts/{type}/latest", s.handleSceneLatestArtifact)
			r.Post("/lock", s.handleSceneLock)
			r.Post("/unlock", s.handleSceneUnlock)
			r.Post("/rerun", s.handleSceneRerun)
		})

		r.Get("/artifacts/{artifactID}", s.handleArtifactGet)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// runRequest is the POST /api/runs body.
type runRequest struct {
	Text         string `json:"text"`
	Style        string `json:"style"`
	MaxScenes    int    `json:"max_scenes"`
	RenderImages bool   `json:"render_images"`
}

func (s *Server) handleRunStart(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := s.registry.Create(cancel)
	runner := s.newRunner(run.HandleEvent)

	go func() {
		defer cancel()
		run.start()
		result, err := runner.RunStory(ctx, pipeline.StoryRequest{
			Text:         req.Text,
			Style:        req.Style,
			MaxScenes:    req.MaxScenes,
			RenderImages: req.RenderImages,
		})
		if err != nil {
			log.Printf("component=web action=run_failed run=%s error=%v", run.State().ID, err)
		}
		run.finish(result, err)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"id": run.State().ID})
}

func (s *Server) handleRunState(w http.ResponseWriter, r *http.Request) {
	run, ok := s.registry.Get(chi.URLParam(r, "runID"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("run not found"))
		return
	}
	writeJSON(w, http.StatusOK, run.State())
}

func (s *Server) handleRunCancel(w http.ResponseWriter, r *http.Request) {
	run, ok := s.registry.Get(chi.URLParam(r, "runID"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("run not found"))
		return
	}
	run.cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// handleRunEvents streams the run's engine events as SSE until the run
// finishes or the client disconnects.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := s.registry.Get(chi.URLParam(r, "runID"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("run not found"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-run.events:
			if !open {
				return
			}
			fmt.Fprint(w, engineEventToSSE(evt).Format())
			flusher.Flush()
		}
	}
}

func (s *Server) handleStoryScenes(w http.ResponseWriter, r *http.Request) {
	scenes, err := s.store.ListScenes(r.Context(), chi.URLParam(r, "storyID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scenes)
}

func (s *Server) handleSceneGet(w http.ResponseWriter, r *http.Request) {
	sc, err := s.store.GetScene(r.Context(), chi.URLParam(r, "sceneID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleSceneArtifacts(w http.ResponseWriter, r *http.Request) {
	arts, err := s.store.List(r.Context(), chi.URLParam(r, "sceneID"), r.URL.Query().Get("type"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, arts)
}

func (s *Server) handleSceneLatestArtifact(w http.ResponseWriter, r *http.Request) {
	art, err := s.store.Latest(r.Context(), chi.URLParam(r, "sceneID"), chi.URLParam(r, "type"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, art)
}

func (s *Server) handleSceneLock(w http.ResponseWriter, r *http.Request) {
	s.setSceneLock(w, r, true)
}

func (s *Server) handleSceneUnlock(w http.ResponseWriter, r *http.Request) {
	s.setSceneLock(w, r, false)
}

func (s *Server) setSceneLock(w http.ResponseWriter, r *http.Request, locked bool) {
	sceneID := chi.URLParam(r, "sceneID")
	if err := s.store.SetLocked(r.Context(), sceneID, locked); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scene_id": sceneID, "planning_locked": locked})
}

// rerunRequest is the POST /api/scenes/{id}/rerun body.
type rerunRequest struct {
	Style        string `json:"style"`
	RenderImages bool   `json:"render_images"`
}

// handleSceneRerun re-runs one scene synchronously. Locked scenes replay
// stored artifacts; unlocked scenes regenerate new versions.
func (s *Server) handleSceneRerun(w http.ResponseWriter, r *http.Request) {
	var req rerunRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
	}

	runner := s.newRunner(nil)
	st, err := runner.RunScene(r.Context(), chi.URLParam(r, "sceneID"), req.Style, req.RenderImages)
	if err != nil {
		var missing *pipeline.SceneLockedMissingArtifactError
		if errors.As(err, &missing) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scene_id": chi.URLParam(r, "sceneID"),
		"outputs":  st.Outputs(),
	})
}

func (s *Server) handleArtifactGet(w http.ResponseWriter, r *http.Request) {
	art, err := s.store.Get(r.Context(), chi.URLParam(r, "artifactID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, art)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("component=web action=encode_response error=%v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeStoreError maps store errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrSceneLocked):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
