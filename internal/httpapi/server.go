// Package httpapi serves the read-side HTTP API: session listing, manifest
// and artifact retrieval, failure diagnostics, health, and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxhound/voxhound/internal/observability"
	"github.com/voxhound/voxhound/pkg/engine"
	"github.com/voxhound/voxhound/pkg/session"
	"github.com/voxhound/voxhound/pkg/storage"
)

// Server is the read API server
type Server struct {
	host   string
	port   int
	engine *engine.Engine
	server *http.Server
	logger zerolog.Logger
}

// Config holds server configuration
type Config struct {
	Host   string
	Port   int
	Engine *engine.Engine
	Logger zerolog.Logger
}

// NewServer creates a new read API server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	return &Server{
		host:   cfg.Host,
		port:   cfg.Port,
		engine: cfg.Engine,
		logger: cfg.Logger,
	}, nil
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/failed", s.handleFailedSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /api/sessions/{id}/artifacts/{name}", s.handleGetArtifact)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start starts the server without blocking.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.Handler(),
	}

	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting read API server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Read API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Read API server stopped")
	return nil
}

type listResponse struct {
	Sessions      []session.SessionSummary `json:"sessions"`
	NextPageToken string                   `json:"next_page_token,omitempty"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	pageSize := 0
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid page_size")
			return
		}
		pageSize = n
	}

	sessions, next, err := s.engine.ListSessions(r.Context(), r.URL.Query().Get("page_token"), pageSize)
	if err != nil {
		if strings.Contains(err.Error(), "invalid page token") {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("Session listing failed")
		s.writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}

	if sessions == nil {
		sessions = []session.SessionSummary{}
	}
	s.writeJSON(w, http.StatusOK, listResponse{Sessions: sessions, NextPageToken: next})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	manifest, err := s.engine.GetSessionManifest(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, manifest)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	name := r.PathValue("name")

	data, err := s.engine.GetArtifact(r.Context(), id, name)
	if err != nil {
		s.writeLookupError(w, id, err)
		return
	}

	w.Header().Set("Content-Type", artifactContentType(name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleFailedSessions(w http.ResponseWriter, r *http.Request) {
	failed := s.engine.FailedSessions()
	if failed == nil {
		failed = []session.FailureRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"failed": failed})
}

func (s *Server) writeLookupError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrCorruptManifest):
		s.writeError(w, http.StatusUnprocessableEntity, "manifest is unreadable")
	case errors.Is(err, storage.ErrInvalidKey):
		s.writeError(w, http.StatusBadRequest, "invalid artifact name")
	default:
		s.logger.Error().Str("session_id", id).Err(err).Msg("Session lookup failed")
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func artifactContentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	case strings.HasSuffix(name, ".jsonl"):
		return "application/x-ndjson"
	case strings.HasSuffix(name, ".opus"):
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
