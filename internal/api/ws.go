package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/bouncer-ai/internal/identity"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

const wsWriteTimeout = 10 * time.Second

// wsMessage is a client message. Type is one of answer, ping or state.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// wsEvent is a server message.
type wsEvent struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// ServeWS runs the websocket interview for one project.
// The connection receives the stored state first, then one "turn" event per
// answered message.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	projectID := chi.URLParam(r, "projectID")
	h.logger.Info("WebSocket connection request", "user_id", userID, "project_id", projectID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()
	ws.SetReadLimit(maxBodyBytes)

	ctx := r.Context()
	h.sendState(ctx, ws, projectID, userID)
	h.readLoop(ctx, ws, projectID, userID)
	h.logger.Info("Interview connection ended", "user_id", userID, "project_id", projectID)
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, projectID, userID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.writeEvent(ctx, ws, wsEvent{Type: "error", Error: "invalid_message"})
			continue
		}

		switch msg.Type {
		case "ping":
			h.writeEvent(ctx, ws, wsEvent{Type: "pong"})
		case "state":
			h.sendState(ctx, ws, projectID, userID)
		case "answer":
			h.wsTurn(ctx, ws, projectID, userID, msg.Content)
		default:
			h.writeEvent(ctx, ws, wsEvent{Type: "error", Error: "unknown_type"})
		}
	}
}

func (h *Handler) wsTurn(ctx context.Context, ws *websocket.Conn, projectID, userID, answer string) {
	// Same bounds as the HTTP turn body.
	if err := h.validate.Struct(turnRequest{Answer: answer}); err != nil {
		h.writeEvent(ctx, ws, wsEvent{Type: "error", Error: "answer_too_long"})
		return
	}
	if h.limiter != nil && !h.limiter.Allow(userID) {
		h.writeEvent(ctx, ws, wsEvent{Type: "error", Error: "rate_limited"})
		return
	}
	unlock, ok := lockTurn(userID)
	if !ok {
		h.writeEvent(ctx, ws, wsEvent{Type: "error", Error: "turn_in_progress"})
		return
	}
	out, err := h.svc.Turn(ctx, projectID, userID, answer)
	unlock()
	if err != nil {
		_, code := errorStatus(err)
		h.logger.Warn("WebSocket turn failed", "user_id", userID, "project_id", projectID, "error", err)
		h.writeEvent(ctx, ws, wsEvent{Type: "error", Error: code})
		return
	}
	h.writeEvent(ctx, ws, wsEvent{Type: "turn", Data: out})
}

func (h *Handler) sendState(ctx context.Context, ws *websocket.Conn, projectID, userID string) {
	state, err := h.svc.State(ctx, projectID, userID)
	if err != nil {
		_, code := errorStatus(err)
		h.writeEvent(ctx, ws, wsEvent{Type: "error", Error: code})
		return
	}
	h.writeEvent(ctx, ws, wsEvent{Type: "state", Data: newStateView(projectID, state)})
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *Handler) writeEvent(ctx context.Context, ws *websocket.Conn, ev wsEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to encode websocket event", "type", ev.Type, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("Failed to write websocket event", "type", ev.Type, "error", err)
	}
}
