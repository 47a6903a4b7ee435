// Package api exposes the Voxgate HTTP surface: the chat endpoints
// (JSON, SSE, WebSocket), session lifecycle, the breaker admin surface, and
// the operational endpoints.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxgate/voxgate/internal/health"
	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/resilience"
	"github.com/voxgate/voxgate/internal/respond"
	"github.com/voxgate/voxgate/internal/session"
)

// Config wires a [Server].
type Config struct {
	// Orchestrator drives conversation turns. Required.
	Orchestrator *respond.Orchestrator

	// Sessions enforces concurrency caps and switch cooldowns. Required.
	Sessions *session.Manager

	// Breakers backs the admin surface. Optional; nil disables the
	// /admin/breakers routes.
	Breakers *resilience.Registry

	// Health serves the liveness and readiness probes. Optional.
	Health *health.Handler

	// Avatars is the selectable persona catalogue, in display order.
	Avatars []respond.AvatarProfile

	// Metrics instruments HTTP handling. Optional.
	Metrics *observe.Metrics
}

// Server is the HTTP layer over the response pipeline.
type Server struct {
	cfg     Config
	avatars map[string]respond.AvatarProfile
}

// NewServer creates a Server from cfg.
func NewServer(cfg Config) *Server {
	avatars := make(map[string]respond.AvatarProfile, len(cfg.Avatars))
	for _, av := range cfg.Avatars {
		avatars[av.ID] = av
	}
	return &Server{cfg: cfg, avatars: avatars}
}

// Routes builds the full route table. All application routes run through the
// observability middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("POST /v1/chat/stream", s.handleChatStream)
	mux.HandleFunc("GET /v1/chat/ws", s.handleChatWS)

	mux.HandleFunc("GET /v1/avatars", s.handleListAvatars)

	mux.HandleFunc("POST /v1/sessions", s.handleStartSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleEndSession)
	mux.HandleFunc("POST /v1/sessions/{id}/activity", s.handleSessionActivity)
	mux.HandleFunc("DELETE /v1/users/{id}/sessions", s.handleEndUserSessions)
	mux.HandleFunc("POST /v1/users/{id}/avatar-switch", s.handleAvatarSwitch)

	if s.cfg.Breakers != nil {
		mux.HandleFunc("GET /admin/breakers", s.handleListBreakers)
		mux.HandleFunc("POST /admin/breakers/{name}/reset", s.handleResetBreaker)
	}

	if s.cfg.Health != nil {
		s.cfg.Health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.cfg.Metrics)(mux)
}

// avatarSummary is the public view of an avatar.
type avatarSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Language     string `json:"language,omitempty"`
	VideoEnabled bool   `json:"videoEnabled"`
	Greeting     string `json:"greeting,omitempty"`
}

// handleListAvatars serves the persona catalogue.
func (s *Server) handleListAvatars(w http.ResponseWriter, _ *http.Request) {
	out := make([]avatarSummary, 0, len(s.cfg.Avatars))
	for _, av := range s.cfg.Avatars {
		out = append(out, avatarSummary{
			ID:           av.ID,
			Name:         av.Name,
			Language:     av.LanguageCode,
			VideoEnabled: av.VideoEnabled,
			Greeting:     av.Greeting,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"avatars": out})
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}
