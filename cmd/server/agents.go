package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/bouncer-ai/internal/agent"
	"github.com/ashureev/bouncer-ai/internal/api"
	"github.com/ashureev/bouncer-ai/internal/config"
	"github.com/ashureev/bouncer-ai/internal/domain"
	"github.com/ashureev/bouncer-ai/internal/llm"
)

const agentRetryDelay = 500 * time.Millisecond

// agentSet is the scorers and tone modifier chosen by AGENT_STRATEGY.
type agentSet struct {
	knowledge agent.Scorer
	vibe      agent.Scorer
	tone      agent.ToneModifier
	checks    map[string]api.HealthCheck
	closers   []func() error
}

// Close releases remote connections.
func (s *agentSet) Close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			slog.Debug("Failed to close agent", "error", err)
		}
	}
}

func buildAgents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*agentSet, error) {
	set := &agentSet{checks: map[string]api.HealthCheck{}}

	var knowledge, vibe agent.Scorer
	switch cfg.Agent.Strategy {
	case config.StrategyRemote:
		remote, err := agent.DialRemoteScorer(cfg.Agent.RemoteAddr, cfg.Agent.RemoteMethod)
		if err != nil {
			return nil, err
		}
		set.closers = append(set.closers, remote.Close)
		set.checks["scorer"] = remote.Check
		knowledge, vibe = remote, remote
	case config.StrategyCombined, config.StrategySplit:
		m, err := llm.NewChatModel(ctx, cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("create chat model: %w", err)
		}
		if cfg.Agent.Strategy == config.StrategySplit {
			knowledge = agent.NewSplitAgent(m, m, domain.AxisKnowledge)
			vibe = agent.NewSplitAgent(m, m, domain.AxisVibe)
		} else {
			knowledge = agent.NewCombinedAgent(m, domain.AxisKnowledge)
			vibe = agent.NewCombinedAgent(m, domain.AxisVibe)
		}
		set.tone = agent.NewToneAgent(m, cfg.Agent.ToneTimeout)
	default:
		return nil, fmt.Errorf("unknown agent strategy %q", cfg.Agent.Strategy)
	}

	set.knowledge = agent.NewResilient(knowledge, agent.ResilientConfig{
		Name:        "knowledge",
		Timeout:     cfg.Agent.Timeout,
		MaxAttempts: cfg.Agent.MaxAttempts,
		BaseDelay:   agentRetryDelay,
		Logger:      logger,
	})
	set.vibe = agent.NewResilient(vibe, agent.ResilientConfig{
		Name:        "vibe",
		Timeout:     cfg.Agent.Timeout,
		MaxAttempts: cfg.Agent.MaxAttempts,
		BaseDelay:   agentRetryDelay,
		Logger:      logger,
	})
	if set.tone == nil {
		set.tone = agent.PassthroughTone{}
	}
	return set, nil
}
