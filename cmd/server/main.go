// bouncer.ai interview server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/bouncer-ai/internal/allocation"
	"github.com/ashureev/bouncer-ai/internal/api"
	"github.com/ashureev/bouncer-ai/internal/bouncer"
	"github.com/ashureev/bouncer-ai/internal/config"
	"github.com/ashureev/bouncer-ai/internal/identity"
	"github.com/ashureev/bouncer-ai/internal/interview"
	"github.com/ashureev/bouncer-ai/internal/middleware"
	"github.com/ashureev/bouncer-ai/internal/projects"
	"github.com/ashureev/bouncer-ai/internal/signature"
	"github.com/ashureev/bouncer-ai/internal/store"
	"github.com/ashureev/bouncer-ai/internal/telemetry"
	"github.com/ashureev/bouncer-ai/internal/transcript"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	checks := map[string]api.HealthCheck{"database": repo.Ping}

	var sessions store.SessionStore = repo
	if cfg.SessionBackend == config.SessionBackendRedis {
		rs, err := store.NewRedis(cfg.RedisURL)
		if err != nil {
			slog.Error("Failed to initialize redis session store", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := rs.Close(); closeErr != nil {
				slog.Error("Failed to close redis client", "error", closeErr)
			}
		}()
		if err := rs.Ping(ctx); err != nil {
			slog.Error("Redis health check failed", "error", err)
			os.Exit(1)
		}
		sessions = rs
		checks["sessions"] = rs.Ping
		slog.Info("Redis session store connected")
	} else {
		sweeperDone := store.StartSessionSweeper(ctx, repo, cfg.SweepInterval)
		defer func() { <-sweeperDone }()
	}

	configs := projects.Chain{repo}
	if cfg.ProjectsDir != "" {
		dir, err := projects.NewDirSource(cfg.ProjectsDir, logger)
		if err != nil {
			slog.Error("Failed to load project configs", "dir", cfg.ProjectsDir, "error", err)
			os.Exit(1)
		}
		if err := dir.Watch(ctx); err != nil {
			slog.Warn("Project config watcher disabled", "error", err)
		}
		defer func() {
			if closeErr := dir.Close(); closeErr != nil {
				slog.Debug("Failed to close project watcher", "error", closeErr)
			}
		}()
		configs = projects.Chain{dir, repo}
		slog.Info("Project configs loaded", "dir", cfg.ProjectsDir, "projects", dir.Projects())
	}

	agents, err := buildAgents(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize agents", "strategy", cfg.Agent.Strategy, "error", err)
		os.Exit(1)
	}
	defer agents.Close()
	for name, check := range agents.checks {
		checks[name] = check
	}
	slog.Info("Agents initialized", "strategy", cfg.Agent.Strategy, "provider", cfg.LLM.Provider)

	opts := []interview.Option{
		interview.WithPolicy(cfg.Policy),
		interview.WithLogger(logger),
		interview.WithTone(agents.tone),
	}
	if cfg.BypassPhrase != "" {
		slog.Warn("Interview bypass phrase is enabled")
		opts = append(opts, interview.WithBypassPhrase(cfg.BypassPhrase))
	}
	orch, err := interview.New(agents.knowledge, agents.vibe, opts...)
	if err != nil {
		slog.Error("Failed to initialize orchestrator", "error", err)
		os.Exit(1)
	}

	allocator, err := allocation.New(cfg.Allocation, nil)
	if err != nil {
		slog.Error("Failed to initialize allocation calculator", "error", err)
		os.Exit(1)
	}

	var signer *signature.Signer
	if cfg.SigningEnabled() {
		signer, err = signature.NewSigner(cfg.SigningKey)
		if err != nil {
			slog.Error("Failed to load signing key", "error", err)
			os.Exit(1)
		}
		slog.Info("Claim signing enabled", "signer", signer.Address().Hex())
	} else {
		slog.Info("Claim signing disabled (SIGNING_PRIVATE_KEY not set)")
	}

	transcripts, err := transcript.New(cfg.Transcript, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			slog.Error("Failed to close transcript logger", "error", closeErr)
		}
	}()

	tracker, err := telemetry.New(telemetry.Config{
		APIKey:   cfg.Telemetry.PostHogKey,
		Endpoint: cfg.Telemetry.PostHogEndpoint,
		Service:  "bouncer-server",
		Logger:   logger,
	})
	if err != nil {
		slog.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := tracker.Close(); closeErr != nil {
			slog.Warn("Failed to flush telemetry", "error", closeErr)
		}
	}()

	svc, err := bouncer.New(bouncer.Deps{
		Sessions:        sessions,
		Users:           repo,
		Configs:         configs,
		Nonces:          repo,
		Orchestrator:    orch,
		Allocator:       allocator,
		Signer:          signer,
		Transcript:      transcripts,
		Tracker:         tracker,
		Logger:          logger,
		SessionTTL:      cfg.SessionTTL,
		DefaultContract: cfg.DefaultContract,
	})
	if err != nil {
		slog.Error("Failed to initialize bouncer service", "error", err)
		os.Exit(1)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.TurnsPerMinute)
	defer limiter.Stop()

	handler := api.NewHandler(svc, repo, api.Options{
		Limiter:        limiter,
		Checks:         checks,
		AllowedOrigins: cfg.AllowedOrigins,
		IsDev:          cfg.IsDevelopment(),
		Logger:         logger,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	handler.RegisterRoutes(r)

	// No WriteTimeout: websocket interviews stay open across many turns.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
