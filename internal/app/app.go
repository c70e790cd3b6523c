// Package app wires configuration, storage, and AI dependencies into a
// running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cymbiose/kb/db"
	"github.com/cymbiose/kb/internal/api"
	"github.com/cymbiose/kb/internal/catalog"
	"github.com/cymbiose/kb/internal/chat"
	"github.com/cymbiose/kb/internal/config"
	"github.com/cymbiose/kb/internal/log"
	"github.com/cymbiose/kb/internal/retrieval"
	"github.com/cymbiose/kb/internal/scrape"
)

// App holds the wired service components.
type App struct {
	Config    *config.Config
	Logger    log.Logger
	Pool      *pgxpool.Pool
	Store     *catalog.Store
	Retriever *retrieval.Retriever
	Chat      *chat.Orchestrator
	Scraper   *scrape.Scraper
	Server    *api.Server
}

// Setup builds the full application: migrations, connection pool, Genkit
// with the Gemini plugin, and the HTTP server.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	if logger == nil {
		logger = log.NewNop()
	}

	pool, err := providePool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		pool.Close()
		return nil, errors.New("initializing genkit")
	}
	embedder := provideEmbedder(g, cfg)

	store, err := catalog.NewStore(pool, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating catalog store: %w", err)
	}
	retriever, err := retrieval.New(pool, embedder, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating retriever: %w", err)
	}
	orchestrator, err := chat.New(g, retriever, cfg.ModelName, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating chat orchestrator: %w", err)
	}
	scraper := scrape.New(
		time.Duration(cfg.Scraper.TimeoutMs)*time.Millisecond,
		cfg.Scraper.MaxBodyBytes,
		logger)

	server, err := api.NewServer(api.ServerConfig{
		Logger:  logger,
		Store:   store,
		Chatter: orchestrator,
		Scraper: scraper,
		Pool:    pool,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating api server: %w", err)
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		Pool:      pool,
		Store:     store,
		Retriever: retriever,
		Chat:      orchestrator,
		Scraper:   scraper,
		Server:    server,
	}, nil
}

// Close releases pooled resources.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// providePool runs migrations and opens the connection pool.
func providePool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	model := cfg.EmbedderModel
	if model == "" {
		model = config.DefaultEmbedderModel
	}
	return googlegenai.GoogleAIEmbedder(g, model)
}
