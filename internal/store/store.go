// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/bouncer-ai/internal/domain"
)

// SessionStore persists per-user SessionData with a TTL.
type SessionStore interface {
	// GetSession returns the live session at key or domain.ErrSessionMissing.
	GetSession(ctx context.Context, key string) (*domain.SessionData, error)

	// CreateSession writes a fresh session, replacing any existing one.
	// data.Version is set to 1 and data.Generation to a new unique id.
	CreateSession(ctx context.Context, key string, data *domain.SessionData, ttl time.Duration) error

	// SetSession overwrites the session if the stored version and generation
	// still equal data's, then increments data.Version. A stale version or a
	// session recreated since data was read returns
	// domain.ErrSessionConflict; a missing or expired session returns
	// domain.ErrSessionMissing.
	SetSession(ctx context.Context, key string, data *domain.SessionData, ttl time.Duration) error

	// DeleteSession removes the session at key. Missing keys are not an error.
	DeleteSession(ctx context.Context, key string) error

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error
}

// UserStore persists anonymous users and their bound wallets.
type UserStore interface {
	// GetUser retrieves a user by ID. It returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// BindWallet sets the wallet address of an existing user.
	BindWallet(ctx context.Context, userID, wallet string) error
}

// ConfigStore persists per-project BouncerConfig rows.
type ConfigStore interface {
	// GetBouncerConfig returns the config or domain.ErrConfigMissing.
	GetBouncerConfig(ctx context.Context, projectID string) (*domain.BouncerConfig, error)

	// UpsertBouncerConfig creates or replaces a project's config.
	UpsertBouncerConfig(ctx context.Context, cfg *domain.BouncerConfig) error

	// ListBouncerConfigs returns every stored config ordered by project ID.
	ListBouncerConfigs(ctx context.Context) ([]*domain.BouncerConfig, error)
}

// NonceStore hands out monotonically increasing nonces per wallet. Each claim
// ID holds at most one nonce.
type NonceStore interface {
	ReserveNonce(ctx context.Context, wallet, claimID string) (uint64, error)
}

// SessionInfo summarizes a stored session for operators.
type SessionInfo struct {
	Key       string
	Version   int64
	Projects  int
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// Repository is the full SQLite-backed persistence surface.
type Repository interface {
	SessionStore
	UserStore
	ConfigStore
	NonceStore

	// ListSessions returns live sessions, newest first.
	ListSessions(ctx context.Context, limit int) ([]SessionInfo, error)

	// CleanupExpiredSessions removes sessions past their expiry.
	CleanupExpiredSessions(ctx context.Context) (int64, error)

	// Close closes the database connection.
	Close() error
}
