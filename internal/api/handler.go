// Package api provides HTTP handlers for the bouncer API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/bouncer-ai/internal/bouncer"
	"github.com/ashureev/bouncer-ai/internal/domain"
	"github.com/ashureev/bouncer-ai/internal/middleware"
	"github.com/ashureev/bouncer-ai/internal/signature"
	"github.com/ashureev/bouncer-ai/internal/store"
	"github.com/go-playground/validator/v10"
)

// maxBodyBytes bounds request bodies and websocket messages.
const maxBodyBytes = 16 << 10

// turnLocks prevents concurrent turns for the same user. Entries are never
// removed; a goroutine may still hold a loaded mutex after the owner unlocks.
var turnLocks sync.Map

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Options are the optional collaborators of a Handler.
type Options struct {
	Limiter        *middleware.RateLimiter
	Checks         map[string]HealthCheck
	AllowedOrigins []string
	IsDev          bool
	HealthTimeout  time.Duration
	Logger         *slog.Logger
}

// Handler serves the interview API.
type Handler struct {
	svc            *bouncer.Service
	users          store.UserStore
	limiter        *middleware.RateLimiter
	checks         map[string]HealthCheck
	allowedOrigins []string
	isDev          bool
	healthTimeout  time.Duration
	validate       *validator.Validate
	logger         *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc *bouncer.Service, users store.UserStore, opts Options) *Handler {
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		svc:            svc,
		users:          users,
		limiter:        opts.Limiter,
		checks:         opts.Checks,
		allowedOrigins: opts.AllowedOrigins,
		isDev:          opts.IsDev,
		healthTimeout:  opts.HealthTimeout,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		logger:         opts.Logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// errorStatus maps service errors to an HTTP status and a stable error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrConfigMissing):
		return http.StatusNotFound, "project_not_found"
	case errors.Is(err, domain.ErrSessionMissing):
		return http.StatusUnauthorized, "session_missing"
	case errors.Is(err, domain.ErrSessionConflict):
		return http.StatusConflict, "session_conflict"
	case errors.Is(err, domain.ErrInterviewClosed):
		return http.StatusConflict, "interview_closed"
	case errors.Is(err, domain.ErrNotEligible):
		return http.StatusConflict, "not_eligible"
	case errors.Is(err, domain.ErrWalletMissing):
		return http.StatusConflict, "wallet_missing"
	case errors.Is(err, domain.ErrEmptyAnswer):
		return http.StatusBadRequest, "empty_answer"
	case errors.Is(err, signature.ErrBadAddress):
		return http.StatusBadRequest, "invalid_wallet"
	case errors.Is(err, domain.ErrAgentCall):
		return http.StatusBadGateway, "agent_unavailable"
	case errors.Is(err, bouncer.ErrSigningDisabled):
		return http.StatusServiceUnavailable, "signing_disabled"
	case errors.Is(err, bouncer.ErrContractMissing):
		return http.StatusServiceUnavailable, "contract_missing"
	case errors.Is(err, domain.ErrInvalidHistory):
		return http.StatusInternalServerError, "invalid_history"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		h.logger.Warn("Request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	Error(w, status, code)
}

// decode reads a bounded JSON body into v and validates it. An empty body
// decodes as the zero value.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid_body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid_body")
		return false
	}
	return true
}

// lockTurn takes the per-user turn lock. ok is false when a turn is already
// running for userID.
func lockTurn(userID string) (unlock func(), ok bool) {
	lock, _ := turnLocks.LoadOrStore(userID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		return nil, false
	}
	return mutex.Unlock, true
}

func isSessionMissing(err error) bool {
	return errors.Is(err, domain.ErrSessionMissing)
}
