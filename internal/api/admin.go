package api

import (
	"log/slog"
	"net/http"
)

// handleListBreakers reports the state of every registered breaker.
func (s *Server) handleListBreakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"breakers": s.cfg.Breakers.Snapshots()})
}

// handleResetBreaker force-closes one breaker by name.
func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.cfg.Breakers.Reset(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	slog.InfoContext(r.Context(), "breaker reset", slog.String("breaker", name))
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "name": name})
}
