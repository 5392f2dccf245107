package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/bouncer-ai/internal/domain"
)

// Resilient bounds every call to the wrapped scorer with a timeout and
// retries failures with exponential backoff.
type Resilient struct {
	next        Scorer
	name        string
	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// ResilientConfig configures a Resilient scorer.
type ResilientConfig struct {
	Name        string
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *slog.Logger
}

// NewResilient wraps next.
func NewResilient(next Scorer, cfg ResilientConfig) *Resilient {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resilient{
		next:        next,
		name:        cfg.Name,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		logger:      cfg.Logger,
	}
}

// Score implements Scorer.
func (r *Resilient) Score(ctx context.Context, req ScoreRequest) (domain.Evaluation, error) {
	var lastErr error
	for i := 0; i < r.maxAttempts; i++ {
		eval, err := r.attempt(ctx, req)
		if err == nil {
			return eval, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if i < r.maxAttempts-1 {
			delay := r.baseDelay * time.Duration(1<<i) // 200ms, 400ms, 800ms with the default base
			r.logger.Debug("Agent call failed, retrying",
				"agent", r.name,
				"attempt", i+1,
				"delay", delay,
				"error", err,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return domain.Evaluation{}, agentErr(r.name, ctx.Err())
			}
		}
	}
	return domain.Evaluation{}, agentErr(r.name, fmt.Errorf("after %d attempts: %w", r.maxAttempts, lastErr))
}

func (r *Resilient) attempt(ctx context.Context, req ScoreRequest) (domain.Evaluation, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.next.Score(ctx, req)
}

// agentErr makes sure err matches domain.ErrAgentCall.
func agentErr(name string, err error) error {
	if errors.Is(err, domain.ErrAgentCall) {
		return fmt.Errorf("%s: %w", name, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrAgentCall, name, err)
}
