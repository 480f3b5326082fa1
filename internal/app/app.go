// Package app assembles the application: configuration, database,
// Genkit, and the fetch, ingest and question answering components.
package app

import (
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/postkb/internal/agent"
	"github.com/koopa0/postkb/internal/config"
	"github.com/koopa0/postkb/internal/embedder"
	"github.com/koopa0/postkb/internal/fetch"
	"github.com/koopa0/postkb/internal/ingest"
	"github.com/koopa0/postkb/internal/knowledge"
	"github.com/koopa0/postkb/internal/log"
)

// App is the application container. Construct with Setup and release
// with Close.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit    *genkit.Genkit
	DBPool    *pgxpool.Pool
	Embedder  *embedder.Client
	Knowledge *knowledge.Store
	Fetcher   *fetch.Fetcher
	Pipeline  *ingest.Pipeline
	Agent     *agent.Agent
}

// Close releases held resources. Safe to call on a partially
// constructed App.
func (a *App) Close() error {
	if a.DBPool != nil {
		a.DBPool.Close()
		if a.Logger != nil {
			a.Logger.Debug("database pool closed")
		}
	}
	return nil
}
