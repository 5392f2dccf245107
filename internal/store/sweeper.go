package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often expired sessions are purged.
const DefaultSweepInterval = 5 * time.Minute

// ExpiredSessionCleaner is the part of Repository the sweeper needs.
type ExpiredSessionCleaner interface {
	CleanupExpiredSessions(ctx context.Context) (int64, error)
}

// StartSessionSweeper runs a background goroutine that periodically deletes
// expired sessions until ctx is cancelled. The returned channel closes when
// the goroutine has exited.
func StartSessionSweeper(ctx context.Context, repo ExpiredSessionCleaner, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				sweepOnce(ctx, repo)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

func sweepOnce(ctx context.Context, repo ExpiredSessionCleaner) {
	deleted, err := repo.CleanupExpiredSessions(ctx)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Session sweeper: context canceled during cleanup", "error", err)
			return
		}
		slog.Error("Session sweeper failed to delete expired sessions", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Session sweeper removed expired sessions", "count", deleted)
	}
}
