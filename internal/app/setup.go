package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/koopa0/postkb/db"
	"github.com/koopa0/postkb/internal/agent"
	"github.com/koopa0/postkb/internal/chunk"
	"github.com/koopa0/postkb/internal/config"
	"github.com/koopa0/postkb/internal/embedder"
	"github.com/koopa0/postkb/internal/fetch"
	"github.com/koopa0/postkb/internal/ingest"
	"github.com/koopa0/postkb/internal/knowledge"
	"github.com/koopa0/postkb/internal/log"
)

// Setup builds the application from cfg. On error, everything already
// initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	aiEmbedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if aiEmbedder == nil {
		return nil, fmt.Errorf("embedder %q not available", cfg.EmbedderModel)
	}
	a.Embedder = embedder.New(aiEmbedder, cfg.EmbedderDim)

	store, err := provideKnowledge(pool, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Knowledge = store

	chunker := chunk.NewSemantic(a.Embedder, cfg.SimilarityThreshold)

	a.Fetcher = fetch.New(nil, cfg.PostsURL, cfg.OutputDir, logger)
	a.Pipeline = ingest.New(chunker, a.Embedder, store,
		cfg.IngestWorkers, cfg.EmbedRateLimit, logger)
	a.Agent = agent.New(g, cfg.ModelName, a.Embedder, store, logger)

	return a, nil
}

// provideDBPool runs migrations and opens the connection pool. Every
// connection registers the pgvector types so vector parameters and
// columns bind natively.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
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
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

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

// provideGenkit initializes Genkit with the Google AI plugin. The
// plugin reads GEMINI_API_KEY from the environment.
func provideGenkit(ctx context.Context) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	return g, nil
}

// provideKnowledge creates the store and registers the configured
// filter keys before anything can write or query.
func provideKnowledge(pool *pgxpool.Pool, cfg *config.Config, logger log.Logger) (*knowledge.Store, error) {
	pg, err := knowledge.NewPG(pool, cfg.Schema, cfg.TableName)
	if err != nil {
		return nil, fmt.Errorf("creating knowledge backend: %w", err)
	}

	store := knowledge.New(pg, logger)
	for _, key := range cfg.FilterKeys {
		store.RegisterFilterKey(key)
	}
	return store, nil
}
