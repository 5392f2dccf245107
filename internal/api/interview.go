package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ashureev/bouncer-ai/internal/domain"
	"github.com/ashureev/bouncer-ai/internal/identity"
	"github.com/go-chi/chi/v5"
)

type sessionRequest struct {
	WalletAddress string `json:"walletAddress" validate:"required,eth_addr"`
}

type turnRequest struct {
	Answer string `json:"answer" validate:"max=4000"`
}

// stateView is the candidate-facing view of a ConversationState. Scores stay
// server-side.
type stateView struct {
	ProjectID       string                     `json:"projectId"`
	History         []domain.ConversationEntry `json:"history"`
	PendingQuestion string                     `json:"pendingQuestion,omitempty"`
	Decision        domain.Decision            `json:"decision"`
	Final           bool                       `json:"final"`
	Access          bool                       `json:"access"`
	Claimed         bool                       `json:"claimed"`
	Signature       *string                    `json:"signature,omitempty"`
	Nonce           *uint64                    `json:"nonce,omitempty"`
	TokenAllocation *int64                     `json:"tokenAllocation,omitempty"`
}

func newStateView(projectID string, s *domain.ConversationState) stateView {
	pending, _ := s.PendingQuestion()
	history := s.History
	if history == nil {
		history = []domain.ConversationEntry{}
	}
	return stateView{
		ProjectID:       projectID,
		History:         history,
		PendingQuestion: pending,
		Decision:        s.Decision(),
		Final:           s.Final,
		Access:          s.Access,
		Claimed:         s.Signature != nil,
		Signature:       s.Signature,
		Nonce:           s.Nonce,
		TokenAllocation: s.TokenAllocation,
	}
}

// RegisterRoutes registers the API and websocket routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Post("/session", h.StartSession)
		r.Get("/me", h.GetMe)
		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Get("/state", h.GetState)
			r.With(h.rateLimit).Post("/turn", h.Turn)
			r.Post("/claim", h.Claim)
		})
	})
	r.Get("/ws/projects/{projectID}", h.ServeWS)
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	if h.limiter == nil {
		return next
	}
	return h.limiter.Middleware(func(r *http.Request) string {
		return identity.UserIDFromContext(r.Context())
	})(next)
}

// StartSession binds a wallet and opens a fresh interview session.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req sessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	data, err := h.svc.StartSession(r.Context(), userID, req.WalletAddress)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]interface{}{
		"startedAt": data.StartedAt,
		"expiresIn": int64(h.svc.SessionTTL().Seconds()),
	})
}

// GetMe returns the current user and a summary of their session.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	resp := map[string]interface{}{
		"user_id":        user.UserID,
		"username":       user.Username,
		"wallet_address": user.WalletAddress,
		"session":        nil,
	}
	data, err := h.svc.Session(r.Context(), userID)
	switch {
	case err == nil:
		projects := make(map[string]domain.Decision, len(data.Projects))
		for id, s := range data.Projects {
			projects[id] = s.Decision()
		}
		resp["session"] = map[string]interface{}{
			"startedAt": data.StartedAt,
			"projects":  projects,
		}
	case !isSessionMissing(err):
		h.serviceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// GetState returns the stored interview for one project.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	projectID := chi.URLParam(r, "projectID")

	state, err := h.svc.State(r.Context(), projectID, userID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, newStateView(projectID, state))
}

// Turn submits an answer, or requests the opening question when the
// interview has not started.
func (h *Handler) Turn(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	projectID := chi.URLParam(r, "projectID")

	var req turnRequest
	if !h.decode(w, r, &req) {
		return
	}

	unlock, ok := lockTurn(userID)
	if !ok {
		h.logger.Warn("Turn already in progress", "user_id", userID, "project_id", projectID)
		Error(w, http.StatusConflict, "turn_in_progress")
		return
	}
	defer unlock()

	out, err := h.svc.Turn(r.Context(), projectID, userID, req.Answer)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, out)
}

// Claim returns the signed purchase authorization for a passed interview.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	projectID := chi.URLParam(r, "projectID")

	unlock, ok := lockTurn(userID)
	if !ok {
		Error(w, http.StatusConflict, "turn_in_progress")
		return
	}
	defer unlock()

	out, err := h.svc.Claim(r.Context(), projectID, userID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, out)
}

// Health returns the health status of the API and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.healthTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	for name, check := range h.checks {
		start := time.Now()
		if err := check(ctx); err != nil {
			h.logger.Error("Health check failed", "check", name, "error", err, "elapsed", time.Since(start))
			checks[name] = "unreachable"
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}
