// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/bouncer-ai/internal/allocation"
	"github.com/ashureev/bouncer-ai/internal/interview"
	"github.com/ashureev/bouncer-ai/internal/llm"
	"github.com/ashureev/bouncer-ai/internal/transcript"
)

// Session backends.
const (
	SessionBackendSQLite = "sqlite"
	SessionBackendRedis  = "redis"
)

// Agent strategies.
const (
	StrategyCombined = "combined"
	StrategySplit    = "split"
	StrategyRemote   = "remote"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	AllowedOrigins []string
	DBPath         string
	ProjectsDir    string

	SessionTTL     time.Duration
	SessionBackend string
	RedisURL       string
	SweepInterval  time.Duration

	LLM   llm.Config
	Agent AgentConfig

	Policy       interview.Policy
	BypassPhrase string

	SigningKey      string
	DefaultContract string
	Allocation      allocation.Params

	Transcript transcript.Config
	Telemetry  TelemetryConfig
	RateLimit  RateLimitConfig
}

// AgentConfig selects and bounds the scoring agents.
type AgentConfig struct {
	Strategy     string
	RemoteAddr   string
	RemoteMethod string
	Timeout      time.Duration
	MaxAttempts  int
	ToneTimeout  time.Duration
}

// TelemetryConfig configures PostHog analytics. An empty key disables it.
type TelemetryConfig struct {
	PostHogKey      string
	PostHogEndpoint string
}

// RateLimitConfig bounds turn requests per user.
type RateLimitConfig struct {
	TurnsPerMinute int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	defaults := interview.DefaultPolicy()
	alloc := allocation.DefaultParams()

	provider := llm.Provider(strings.ToLower(getEnv("LLM_PROVIDER", string(llm.ProviderOpenAI))))

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		DBPath:         getEnv("DB_PATH", "./data/bouncer.db"),
		ProjectsDir:    getEnv("PROJECTS_DIR", ""),

		SessionTTL:     getEnvDuration("SESSION_TTL", 24*time.Hour),
		SessionBackend: strings.ToLower(getEnv("SESSION_BACKEND", SessionBackendSQLite)),
		RedisURL:       getEnv("REDIS_URL", ""),
		SweepInterval:  getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),

		LLM: llm.Config{
			Provider: provider,
			Model:    getEnv("LLM_MODEL", ""),
			APIKey:   getEnv("LLM_API_KEY", ""),
			BaseURL:  getEnv("LLM_BASE_URL", ""),
		},
		Agent: AgentConfig{
			Strategy:     strings.ToLower(getEnv("AGENT_STRATEGY", StrategyCombined)),
			RemoteAddr:   getEnv("AGENT_REMOTE_ADDR", ""),
			RemoteMethod: getEnv("AGENT_REMOTE_METHOD", ""),
			Timeout:      getEnvDuration("AGENT_TIMEOUT", 30*time.Second),
			MaxAttempts:  getEnvInt("AGENT_MAX_ATTEMPTS", 2),
			ToneTimeout:  getEnvDuration("TONE_TIMEOUT", 15*time.Second),
		},

		Policy: interview.Policy{
			FailAtOrBelow: getEnvInt("POLICY_FAIL_AT_OR_BELOW", defaults.FailAtOrBelow),
			MinTurns:      getEnvInt("POLICY_MIN_TURNS", defaults.MinTurns),
			StandardTurns: getEnvInt("POLICY_STANDARD_TURNS", defaults.StandardTurns),
			MaxTurns:      getEnvInt("POLICY_MAX_TURNS", defaults.MaxTurns),
			Early: interview.Threshold{
				Knowledge: getEnvInt("POLICY_EARLY_KNOWLEDGE", defaults.Early.Knowledge),
				Vibe:      getEnvInt("POLICY_EARLY_VIBE", defaults.Early.Vibe),
			},
			Standard: interview.Threshold{
				Knowledge: getEnvInt("POLICY_STANDARD_KNOWLEDGE", defaults.Standard.Knowledge),
				Vibe:      getEnvInt("POLICY_STANDARD_VIBE", defaults.Standard.Vibe),
			},
			Ceiling: interview.Threshold{
				Knowledge: getEnvInt("POLICY_CEILING_KNOWLEDGE", defaults.Ceiling.Knowledge),
				Vibe:      getEnvInt("POLICY_CEILING_VIBE", defaults.Ceiling.Vibe),
			},
		},
		BypassPhrase: getEnv("BYPASS_PHRASE", ""),

		SigningKey:      getEnv("SIGNING_PRIVATE_KEY", ""),
		DefaultContract: getEnv("SALE_CONTRACT_ADDRESS", ""),
		Allocation: allocation.Params{
			Base:           getEnvFloat("ALLOCATION_BASE", alloc.Base),
			Sigma:          getEnvFloat("ALLOCATION_SIGMA", alloc.Sigma),
			IdealKnowledge: getEnvFloat("ALLOCATION_IDEAL_KNOWLEDGE", alloc.IdealKnowledge),
			IdealVibe:      getEnvFloat("ALLOCATION_IDEAL_VIBE", alloc.IdealVibe),
			JitterMin:      getEnvFloat("ALLOCATION_JITTER_MIN", alloc.JitterMin),
			JitterMax:      getEnvFloat("ALLOCATION_JITTER_MAX", alloc.JitterMax),
		},

		Transcript: transcript.Config{
			Enabled:       getEnvBool("TRANSCRIPT_LOG_ENABLED", true),
			Dir:           getEnv("TRANSCRIPT_LOG_DIR", "./data/logs/transcripts"),
			GlobalEnabled: getEnvBool("TRANSCRIPT_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("TRANSCRIPT_LOG_GLOBAL_PATH", "./data/logs/transcripts/all.ndjson"),
			QueueSize:     getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", 1000),
		},
		Telemetry: TelemetryConfig{
			PostHogKey:      getEnv("POSTHOG_API_KEY", ""),
			PostHogEndpoint: getEnv("POSTHOG_ENDPOINT", ""),
		},
		RateLimit: RateLimitConfig{
			TurnsPerMinute: getEnvInt("RATE_LIMIT_TURNS_PER_MINUTE", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	switch c.SessionBackend {
	case SessionBackendSQLite:
	case SessionBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when SESSION_BACKEND=redis")
		}
	default:
		return fmt.Errorf("SESSION_BACKEND must be %q or %q, got %q", SessionBackendSQLite, SessionBackendRedis, c.SessionBackend)
	}

	switch c.Agent.Strategy {
	case StrategyCombined, StrategySplit:
		if _, err := llm.ValidateProvider(string(c.LLM.Provider)); err != nil {
			return fmt.Errorf("LLM_PROVIDER: %w", err)
		}
	case StrategyRemote:
		if c.Agent.RemoteAddr == "" {
			return fmt.Errorf("AGENT_REMOTE_ADDR is required when AGENT_STRATEGY=remote")
		}
	default:
		return fmt.Errorf("AGENT_STRATEGY must be combined, split or remote, got %q", c.Agent.Strategy)
	}
	if c.Agent.Timeout <= 0 {
		return fmt.Errorf("AGENT_TIMEOUT must be > 0")
	}
	if c.Agent.MaxAttempts <= 0 {
		return fmt.Errorf("AGENT_MAX_ATTEMPTS must be > 0")
	}

	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if err := c.Allocation.Validate(); err != nil {
		return fmt.Errorf("allocation: %w", err)
	}

	if c.Transcript.Enabled {
		if c.Transcript.Dir == "" {
			return fmt.Errorf("TRANSCRIPT_LOG_DIR cannot be empty")
		}
		if c.Transcript.GlobalEnabled && c.Transcript.GlobalPath == "" {
			return fmt.Errorf("TRANSCRIPT_LOG_GLOBAL_PATH cannot be empty")
		}
		if c.Transcript.QueueSize <= 0 {
			return fmt.Errorf("TRANSCRIPT_LOG_QUEUE_SIZE must be > 0")
		}
	}
	if c.RateLimit.TurnsPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_TURNS_PER_MINUTE must be >= 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// SigningEnabled reports whether claims can be signed.
func (c *Config) SigningEnabled() bool {
	return strings.TrimSpace(c.SigningKey) != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
