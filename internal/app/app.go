// Package app wires the web process together: configuration, logging,
// tracing, the database pool, the conversation store, the agent client,
// and the chat orchestrator.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/simmerhq/simmer/internal/agent"
	"github.com/simmerhq/simmer/internal/chat"
	"github.com/simmerhq/simmer/internal/config"
	"github.com/simmerhq/simmer/internal/conversation"
	"github.com/simmerhq/simmer/internal/database"
	"github.com/simmerhq/simmer/internal/log"
	"github.com/simmerhq/simmer/internal/observability"
)

// ServiceName identifies the web process in logs, traces, and health
// responses.
const ServiceName = "simmer-web"

// App is the application container for the web process.
type App struct {
	Config       *config.Config
	Logger       log.Logger
	Pool         *pgxpool.Pool
	Store        *conversation.Store
	Agent        *agent.Client
	Orchestrator *chat.Orchestrator

	shutdownTracing func(context.Context) error
}

// New builds the container. Order matters: config resolves and
// validates first (fail-fast), then observability, then storage, then
// the chat pipeline on top.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger := log.New(log.Config{
		Level: logLevel(cfg),
		JSON:  cfg.IsProduction(),
	})
	slog.SetDefault(logger)

	logger.Info("configuration resolved",
		"app_env", cfg.AppEnv,
		"retriever", cfg.RetrieverProvider,
		"web_addr", cfg.WebAddr(),
		"agent_url", cfg.AgentBaseURL)

	shutdownTracing, err := observability.Setup(ctx, observability.Config{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.TraceEndpoint,
		ServiceName: ServiceName,
		Environment: cfg.AppEnv,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}

	dsn := cfg.PostgresDSN()
	if err := database.Migrate(dsn); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	pool, err := database.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	store := conversation.New(pool, logger)
	agentClient := agent.NewClient(cfg.AgentBaseURL, cfg.AgentTimeout, logger)

	orchestrator, err := chat.New(cfg, store, agentClient, logger, chat.DefaultRetryConfig())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}

	return &App{
		Config:          cfg,
		Logger:          logger,
		Pool:            pool,
		Store:           store,
		Agent:           agentClient,
		Orchestrator:    orchestrator,
		shutdownTracing: shutdownTracing,
	}, nil
}

// Close releases resources in reverse construction order.
func (a *App) Close(ctx context.Context) error {
	a.Logger.Info("shutting down")

	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Info("database pool closed")
	}

	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.Logger.Warn("flushing traces failed", "error", err)
		}
	}

	return nil
}

// logLevel picks the slog level for the environment: debug everywhere
// except production.
func logLevel(cfg *config.Config) slog.Level {
	if cfg.IsProduction() {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}
