package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/voxgate/voxgate/internal/resilience"
	"github.com/voxgate/voxgate/internal/respond"
)

// chatRequest is the inbound body of the chat endpoints.
type chatRequest struct {
	UserID   string `json:"userId"`
	AvatarID string `json:"avatarId"`
	Message  string `json:"message"`
	ImageURL string `json:"imageUrl,omitempty"`
}

func (cr chatRequest) toRequest() respond.Request {
	return respond.Request{
		UserID:   cr.UserID,
		AvatarID: cr.AvatarID,
		Message:  cr.Message,
		ImageURL: cr.ImageURL,
	}
}

// decodeChat reads and validates a chat request body. A non-nil error has
// already been written to w.
func (s *Server) decodeChat(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return req, false
	}
	if _, ok := s.avatars[req.AvatarID]; !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown avatar %q", req.AvatarID))
		return req, false
	}
	return req, true
}

// handleChat serves the non-streaming chat endpoint.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	reply, err := s.cfg.Orchestrator.Respond(r.Context(), req.toRequest())
	if err != nil {
		slog.ErrorContext(r.Context(), "chat turn failed", slog.String("error", err.Error()))
		if errors.Is(err, resilience.ErrCircuitOpen) {
			writeError(w, http.StatusServiceUnavailable, "the response service is temporarily unavailable")
			return
		}
		writeError(w, http.StatusBadGateway, "response generation failed")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// handleChatStream serves the SSE chat endpoint. Events arrive as
//
//	event: <kind>
//	data: <json>
//
// frames, ending with the done event. When the client goes away mid-stream
// the event channel is still drained to completion so the pipeline can
// finish persistence and synthesis accounting.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, err := s.cfg.Orchestrator.Stream(r.Context(), req.toRequest())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	clientGone := false
	for ev := range events {
		if clientGone {
			continue
		}
		data, err := ev.MarshalData()
		if err != nil {
			slog.ErrorContext(r.Context(), "event marshal failed",
				slog.String("kind", string(ev.Kind)), slog.String("error", err.Error()))
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
			// Keep draining; the orchestrator still needs the channel
			// consumed to finish the turn.
			clientGone = true
			continue
		}
		flusher.Flush()
	}
}

// wsFrame is the JSON envelope on the WebSocket transport.
type wsFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// handleChatWS upgrades to WebSocket and serves chat turns over it. Each text
// frame from the client is a chat request; the server answers with one frame
// per pipeline event, finishing with a done frame per turn. The connection
// stays open for follow-up turns until the client closes it.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var req chatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.writeWSError(ctx, conn, "invalid request frame")
			continue
		}
		if _, ok := s.avatars[req.AvatarID]; !ok {
			s.writeWSError(ctx, conn, fmt.Sprintf("unknown avatar %q", req.AvatarID))
			continue
		}

		events, err := s.cfg.Orchestrator.Stream(ctx, req.toRequest())
		if err != nil {
			s.writeWSError(ctx, conn, err.Error())
			continue
		}

		for ev := range events {
			payload, err := ev.MarshalData()
			if err != nil {
				continue
			}
			frame, err := json.Marshal(wsFrame{Type: string(ev.Kind), Data: payload})
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				// Drain the rest so the turn can complete.
				for range events {
				}
				return
			}
		}
	}
}

func (s *Server) writeWSError(ctx context.Context, conn *websocket.Conn, message string) {
	data, err := json.Marshal(respond.ErrorPayload{Message: message, Fatal: true})
	if err != nil {
		return
	}
	frame, err := json.Marshal(wsFrame{Type: string(respond.EventError), Data: data})
	if err != nil {
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		slog.DebugContext(ctx, "websocket error frame dropped", slog.String("error", err.Error()))
	}
}
