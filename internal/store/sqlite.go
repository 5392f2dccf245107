package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/bouncer-ai/internal/domain"
	"github.com/ashureev/bouncer-ai/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // serializes session writes to avoid SQLITE_BUSY
	now       func() time.Time
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		wallet_address TEXT,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_wallet ON users(wallet_address) WHERE wallet_address IS NOT NULL;

	CREATE TABLE IF NOT EXISTS sessions (
		session_key TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		generation TEXT NOT NULL DEFAULT '',
		data_json TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS bouncer_configs (
		project_id TEXT PRIMARY KEY,
		mandatory_knowledge TEXT NOT NULL,
		project_desc TEXT NOT NULL,
		whitepaper_knowledge TEXT NOT NULL DEFAULT '',
		character_choice TEXT NOT NULL DEFAULT '',
		contract_address TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS wallet_nonces (
		wallet_address TEXT PRIMARY KEY,
		last_nonce INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS nonce_reservations (
		claim_id TEXT PRIMARY KEY,
		wallet_address TEXT NOT NULL,
		nonce INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, wallet_address, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var wallet sql.NullString
	var lastSeen, createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &wallet,
		&lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.WalletAddress = wallet.String
	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record. An empty wallet keeps the
// stored one.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, wallet_address, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		wallet_address = COALESCE(excluded.wallet_address, users.wallet_address),
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	var wallet any
	if user.WalletAddress != "" {
		wallet = user.WalletAddress
	}

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "upsert_user", func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Username, wallet,
			user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	})
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), s.now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// BindWallet sets the wallet address of an existing user.
func (s *SQLiteStore) BindWallet(ctx context.Context, userID, wallet string) error {
	query := `UPDATE users SET wallet_address = ?, updated_at = ? WHERE user_id = ?`
	var rows int64
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "bind_wallet", func() error {
		result, err := s.db.ExecContext(ctx, query, wallet, s.now().Unix(), userID)
		if err != nil {
			return fmt.Errorf("bind wallet: %w", err)
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("user %s not found", userID)
	}
	return nil
}

// GetSession returns the live session at key.
func (s *SQLiteStore) GetSession(ctx context.Context, key string) (*domain.SessionData, error) {
	query := `SELECT version, generation, data_json FROM sessions WHERE session_key = ? AND expires_at > ?`

	var version int64
	var generation, raw string
	err := s.db.QueryRowContext(ctx, query, key, s.now().UnixMilli()).Scan(&version, &generation, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionMissing
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	data, err := decodeSession(key, []byte(raw))
	if err != nil {
		return nil, err
	}
	data.Version = version
	data.Generation = generation
	return data, nil
}

// CreateSession writes a fresh session at version 1 under a new generation.
func (s *SQLiteStore) CreateSession(ctx context.Context, key string, data *domain.SessionData, ttl time.Duration) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	fresh := data.Clone()
	fresh.Generation = uuid.NewString()
	payload, err := encodeSession(fresh, 1)
	if err != nil {
		return err
	}
	now := s.now()
	query := `
	INSERT INTO sessions (session_key, version, generation, data_json, expires_at, updated_at)
	VALUES (?, 1, ?, ?, ?, ?)
	ON CONFLICT(session_key) DO UPDATE SET
		version = 1,
		generation = excluded.generation,
		data_json = excluded.data_json,
		expires_at = excluded.expires_at,
		updated_at = excluded.updated_at`

	err = shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "create_session", func() error {
		_, err := s.db.ExecContext(ctx, query, key, fresh.Generation, payload, now.Add(ttl).UnixMilli(), now.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	data.Version = 1
	data.Generation = fresh.Generation
	return nil
}

// SetSession performs a compare-and-set on the session version.
func (s *SQLiteStore) SetSession(ctx context.Context, key string, data *domain.SessionData, ttl time.Duration) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	next := data.Version + 1
	payload, err := encodeSession(data, next)
	if err != nil {
		return err
	}
	now := s.now()
	query := `
	UPDATE sessions SET version = ?, data_json = ?, expires_at = ?, updated_at = ?
	WHERE session_key = ? AND version = ? AND generation = ? AND expires_at > ?`

	var rows int64
	err = shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "set_session", func() error {
		result, err := s.db.ExecContext(ctx, query,
			next, payload, now.Add(ttl).UnixMilli(), now.UnixMilli(),
			key, data.Version, data.Generation, now.UnixMilli(),
		)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if rows == 0 {
		if _, err := s.GetSession(ctx, key); err != nil {
			return err
		}
		return domain.ErrSessionConflict
	}
	data.Version = next
	return nil
}

// DeleteSession removes the session at key.
func (s *SQLiteStore) DeleteSession(ctx context.Context, key string) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "delete_session", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_key = ?`, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", key, err)
	}
	return nil
}

// ListSessions returns live sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]SessionInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT session_key, version, data_json, expires_at, updated_at
		FROM sessions WHERE expires_at > ?
		ORDER BY updated_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, s.now().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var raw string
		var expiresAt, updatedAt int64
		if err := rows.Scan(&info.Key, &info.Version, &raw, &expiresAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		var data domain.SessionData
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			slog.Warn("skipping undecodable session", "key", info.Key, "error", err)
			continue
		}
		info.Projects = len(data.Projects)
		info.ExpiresAt = time.UnixMilli(expiresAt)
		info.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// CleanupExpiredSessions removes sessions past their expiry.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	var deleted int64
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "cleanup_sessions", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, s.now().UnixMilli())
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return deleted, nil
}

// GetBouncerConfig returns a project's config.
func (s *SQLiteStore) GetBouncerConfig(ctx context.Context, projectID string) (*domain.BouncerConfig, error) {
	query := `
		SELECT project_id, mandatory_knowledge, project_desc, whitepaper_knowledge,
		       character_choice, contract_address
		FROM bouncer_configs WHERE project_id = ?`

	var cfg domain.BouncerConfig
	err := s.db.QueryRowContext(ctx, query, projectID).Scan(
		&cfg.ProjectID, &cfg.MandatoryKnowledge, &cfg.ProjectDesc,
		&cfg.WhitepaperKnowledge, &cfg.CharacterChoice, &cfg.ContractAddress,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrConfigMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("scan bouncer config: %w", err)
	}
	return &cfg, nil
}

// UpsertBouncerConfig creates or replaces a project's config.
func (s *SQLiteStore) UpsertBouncerConfig(ctx context.Context, cfg *domain.BouncerConfig) error {
	query := `
	INSERT INTO bouncer_configs (project_id, mandatory_knowledge, project_desc,
		whitepaper_knowledge, character_choice, contract_address, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(project_id) DO UPDATE SET
		mandatory_knowledge = excluded.mandatory_knowledge,
		project_desc = excluded.project_desc,
		whitepaper_knowledge = excluded.whitepaper_knowledge,
		character_choice = excluded.character_choice,
		contract_address = excluded.contract_address,
		updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "upsert_config", func() error {
		_, err := s.db.ExecContext(ctx, query,
			cfg.ProjectID, cfg.MandatoryKnowledge, cfg.ProjectDesc,
			cfg.WhitepaperKnowledge, cfg.CharacterChoice, cfg.ContractAddress,
			s.now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert bouncer config: %w", err)
		}
		return nil
	})
}

// ListBouncerConfigs returns every stored config ordered by project ID.
func (s *SQLiteStore) ListBouncerConfigs(ctx context.Context) ([]*domain.BouncerConfig, error) {
	query := `
		SELECT project_id, mandatory_knowledge, project_desc, whitepaper_knowledge,
		       character_choice, contract_address
		FROM bouncer_configs ORDER BY project_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query bouncer configs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close bouncer config rows", "error", closeErr)
		}
	}()

	var out []*domain.BouncerConfig
	for rows.Next() {
		var cfg domain.BouncerConfig
		if err := rows.Scan(
			&cfg.ProjectID, &cfg.MandatoryKnowledge, &cfg.ProjectDesc,
			&cfg.WhitepaperKnowledge, &cfg.CharacterChoice, &cfg.ContractAddress,
		); err != nil {
			return nil, fmt.Errorf("scan bouncer config row: %w", err)
		}
		out = append(out, &cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bouncer configs: %w", err)
	}
	return out, nil
}

// ReserveNonce returns the nonce held by claimID, allocating the wallet's next
// nonce on the first call. Retrying a claim that failed after this point gets
// the same nonce back, so the wallet's sequence has no gaps.
func (s *SQLiteStore) ReserveNonce(ctx context.Context, wallet, claimID string) (uint64, error) {
	addr := normalizeWallet(wallet)
	var nonce int64
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "reserve_nonce", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		// Write first so the transaction holds the write lock before reading.
		res, err := tx.ExecContext(ctx, `
			INSERT INTO nonce_reservations (claim_id, wallet_address, nonce) VALUES (?, ?, -1)
			ON CONFLICT(claim_id) DO NOTHING`, claimID, addr)
		if err != nil {
			return err
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if inserted == 0 {
			if err := tx.QueryRowContext(ctx,
				`SELECT nonce FROM nonce_reservations WHERE claim_id = ?`, claimID,
			).Scan(&nonce); err != nil {
				return err
			}
			return tx.Commit()
		}

		if err := tx.QueryRowContext(ctx, nextNonceQuery, addr).Scan(&nonce); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE nonce_reservations SET nonce = ? WHERE claim_id = ?`, nonce, claimID,
		); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("reserve nonce for %s: %w", wallet, err)
	}
	return uint64(nonce), nil
}

// nextNonceQuery returns 0 for a wallet's first authorization and one more
// than the previous value after that.
const nextNonceQuery = `
	INSERT INTO wallet_nonces (wallet_address, last_nonce) VALUES (?, 0)
	ON CONFLICT(wallet_address) DO UPDATE SET last_nonce = wallet_nonces.last_nonce + 1
	RETURNING last_nonce`

func encodeSession(data *domain.SessionData, version int64) (string, error) {
	c := data.Clone()
	c.Version = version
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	return string(raw), nil
}

// normalizeWallet lowercases a hex address so checksummed and plain forms
// share one nonce counter.
func normalizeWallet(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}
