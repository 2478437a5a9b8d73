// Package client wires the offline-first client: Local Store, Remote
// Gateway, Sync Manager, Reactive Data Hooks, the status surface and the
// REPL.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mittimoney/mittimoney/internal/client/cli"
	"github.com/mittimoney/mittimoney/internal/client/config"
	"github.com/mittimoney/mittimoney/internal/client/remote"
	"github.com/mittimoney/mittimoney/internal/client/remote/grpcgw"
	"github.com/mittimoney/mittimoney/internal/client/remote/restgw"
	"github.com/mittimoney/mittimoney/internal/client/remote/s3gw"
	"github.com/mittimoney/mittimoney/internal/client/services"
	"github.com/mittimoney/mittimoney/internal/client/status"
	"github.com/mittimoney/mittimoney/internal/client/store"
	"github.com/mittimoney/mittimoney/internal/client/syncer"
	"github.com/mittimoney/mittimoney/internal/client/telemetry"
	"github.com/mittimoney/mittimoney/internal/filex"
	"github.com/mittimoney/mittimoney/internal/logging"
	"golang.org/x/sync/errgroup"
)

// Seams for tests.
var (
	openStore      = store.Open
	setupTelemetry = telemetry.Setup
	newS3Gateway   = func(ctx context.Context, cfg s3gw.Config, log logging.Logger) (remote.Gateway, error) {
		return s3gw.New(ctx, cfg, log)
	}
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	store   *store.Store
	gateway remote.Gateway
	manager *syncer.Manager
	hooks   *services.Hooks
	status  *status.Server

	shutdownTracing telemetry.ShutdownFunc
}

// NewApp opens the Local Store and builds everything on top of it. A store
// that cannot be opened is fatal; a backend that cannot be built degrades
// to local-only mode.
func NewApp(ctx context.Context, c *config.Config, version string, logger logging.Logger) (*App, error) {
	app := &App{config: c, logger: logger.With("module", "app")}

	if _, err := filex.EnsureParentDir(c.DBPath); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	st, err := openStore(ctx, c.DSN(), store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	app.store = st

	tp, shutdown, err := setupTelemetry(ctx, c.OTLPEndpoint, version)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	app.shutdownTracing = shutdown

	backend, err := NewBackend(ctx, c, logger)
	if err != nil {
		app.logger.Warn(ctx, "remote backend unavailable, running local-only", "backend", c.Backend, "error", err)
		backend = remote.NotConfigured{}
	}

	guardCfg := remote.DefaultGuardConfig()
	guardCfg.CallTimeout = c.CallTimeout
	app.gateway = remote.NewGuard(backend, guardCfg, logger, remote.WithTracerProvider(tp))

	app.manager = syncer.New(st, app.gateway, syncer.Config{
		Interval:            c.SyncInterval,
		MaxRetries:          c.MaxRetries,
		OnlineCheckInterval: c.OnlineCheckInterval,
	}, logger)
	if err := app.manager.Init(ctx); err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("sync manager init: %w", err)
	}

	app.hooks = services.New(st, app.manager, logger)
	if c.StatusAddr != "" {
		app.status = status.NewServer(c.StatusAddr, app.manager, st, logger)
	}
	return app, nil
}

// NewBackend builds the Remote Gateway named by the config.
func NewBackend(ctx context.Context, c *config.Config, logger logging.Logger) (remote.Gateway, error) {
	switch c.Backend {
	case config.BackendNone:
		return remote.NotConfigured{}, nil
	case config.BackendGRPC:
		if c.GRPCAddr == "" {
			return nil, errors.New("grpc_addr is empty")
		}
		gw, err := grpcgw.New(c.GRPCAddr, c.GRPCToken)
		if err != nil {
			return nil, err
		}
		return gw, nil
	case config.BackendREST:
		if c.RESTURL == "" {
			return nil, errors.New("rest_url is empty")
		}
		return restgw.New(&http.Client{}, c.RESTURL, c.RESTAPIKey, logger), nil
	case config.BackendS3:
		if c.S3Bucket == "" {
			return nil, errors.New("s3_bucket is empty")
		}
		return newS3Gateway(ctx, s3gw.Config{
			Bucket:    c.S3Bucket,
			Region:    c.S3Region,
			Endpoint:  c.S3Endpoint,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
		}, logger)
	}
	return nil, fmt.Errorf("unknown backend %q", c.Backend)
}

func (app *App) Manager() *syncer.Manager { return app.manager }
func (app *App) Hooks() *services.Hooks   { return app.hooks }

// Run starts background sync and the status server, then reads REPL
// commands from in. Leaving the REPL stops everything.
func (app *App) Run(ctx context.Context, in io.Reader) error {
	app.logger.Info(ctx, "Starting app...")
	defer app.Close(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.manager.Run(ctx) })
	if app.status != nil {
		g.Go(func() error { return app.status.Run(ctx) })
	}

	// the REPL may stay blocked on input after ctx ends; it is not waited for
	replDone := make(chan struct{})
	go func() {
		defer close(replDone)
		cli.NewApp(ctx, app.hooks, app.manager, app.config.UserID, app.logger).Run(ctx, in)
	}()
	g.Go(func() error {
		select {
		case <-replDone:
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	err := g.Wait()
	app.logger.Info(ctx, "App stopped")
	return err
}

// Close releases the gateway, the tracer provider and the store.
func (app *App) Close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if app.gateway != nil {
		if err := app.gateway.Close(); err != nil {
			app.logger.Warn(ctx, "closing gateway", "error", err)
		}
	}
	if app.shutdownTracing != nil {
		if err := app.shutdownTracing(ctx); err != nil {
			app.logger.Warn(ctx, "flushing traces", "error", err)
		}
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			app.logger.Error(ctx, "closing store", "error", err)
		}
	}
}
