package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// startSessionRequest is the body of POST /v1/sessions.
type startSessionRequest struct {
	UserID   string `json:"userId"`
	AvatarID string `json:"avatarId"`
}

// sessionView is the public shape of a session record.
type sessionView struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	AvatarID     string    `json:"avatarId"`
	StartedAt    time.Time `json:"startedAt"`
	LastActivity time.Time `json:"lastActivity"`
	Greeting     string    `json:"greeting,omitempty"`
}

// handleStartSession registers a new session, subject to the per-user cap.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	avatar, ok := s.avatars[req.AvatarID]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown avatar")
		return
	}

	rec, decision := s.cfg.Sessions.StartSession(req.UserID, req.AvatarID)
	if !decision.Allowed {
		writeJSON(w, http.StatusTooManyRequests, decision)
		return
	}

	writeJSON(w, http.StatusCreated, sessionView{
		ID:           rec.ID,
		UserID:       rec.UserID,
		AvatarID:     rec.AvatarID,
		StartedAt:    rec.StartedAt,
		LastActivity: rec.LastActivity,
		Greeting:     avatar.Greeting,
	})
}

// handleEndSession removes one session by ID.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Sessions.EndSession(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// handleSessionActivity advances the idle clock for the session's user.
func (s *Server) handleSessionActivity(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.cfg.Sessions.Session(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	s.cfg.Sessions.UpdateActivityByUserID(rec.UserID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEndUserSessions removes every session a user holds.
func (s *Server) handleEndUserSessions(w http.ResponseWriter, r *http.Request) {
	ended := s.cfg.Sessions.EndAllUserSessions(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]int{"ended": ended})
}

// avatarSwitchRequest is the body of POST /v1/users/{id}/avatar-switch.
type avatarSwitchRequest struct {
	AvatarID string `json:"avatarId"`
}

// handleAvatarSwitch applies the avatar-switch cooldown for a user.
func (s *Server) handleAvatarSwitch(w http.ResponseWriter, r *http.Request) {
	var req avatarSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, ok := s.avatars[req.AvatarID]; !ok {
		writeError(w, http.StatusNotFound, "unknown avatar")
		return
	}

	decision := s.cfg.Sessions.SwitchAvatar(r.PathValue("id"), req.AvatarID)
	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, decision)
}
