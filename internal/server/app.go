// Package server wires the document server: storage, the gRPC endpoint and
// graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mittimoney/mittimoney/internal/logging"
	"github.com/mittimoney/mittimoney/internal/server/config"
	"github.com/mittimoney/mittimoney/internal/server/documents"
	"golang.org/x/sync/errgroup"

	gs "github.com/mittimoney/mittimoney/internal/server/grpc"
)

// openDB is a seam for tests.
var openDB = documents.Open

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	docs   gs.Documents
}

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	app := &App{config: c, logger: logger.With("module", "app")}

	if c.DatabaseDSN == "" {
		app.logger.Warn(ctx, "no database configured, documents are kept in memory")
		app.docs = documents.NewMemory()
		return app, nil
	}

	db, err := openDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.db = db
	app.docs = documents.NewService(db, logger)
	return app, nil
}

// Run serves until ctx is cancelled or the gRPC server fails.
func (app *App) Run(ctx context.Context) error {
	app.logger.Info(ctx, "Starting app...")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s := gs.NewGRPCServer(app.config.GRPCAddr, app.logger, app.docs, app.config.SecretKey)
		return s.Run(ctx)
	})

	err := g.Wait()
	if app.db != nil {
		if cerr := app.db.Close(); cerr != nil {
			app.logger.Error(ctx, "closing database", "error", cerr)
		}
	}
	app.logger.Info(ctx, "App stopped")
	return err
}
