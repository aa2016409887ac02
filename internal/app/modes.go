package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lhermoso/grid-vault/internal/scheduler"
	"github.com/lhermoso/grid-vault/internal/server"
	"github.com/lhermoso/grid-vault/internal/server/handler"
	"github.com/lhermoso/grid-vault/internal/server/ws"
	"github.com/lhermoso/grid-vault/internal/service"
)

// shutdownGrace bounds how long in-flight HTTP requests may run after the
// context is cancelled.
const shutdownGrace = 10 * time.Second

// ServerMode runs the HTTP API and the WebSocket hub.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// SchedulerMode runs only the background jobs: batch fee collection and
// audit-log archival.
func (a *App) SchedulerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scheduler mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startScheduler(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// FullMode runs the HTTP API, WebSocket hub, and background jobs together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	if a.cfg.Scheduler.Enabled {
		if err := a.startScheduler(ctx, g, deps); err != nil {
			return err
		}
	}

	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server shuts down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, service.EventChannel, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Vault:   handler.NewVaultHandler(deps.Vault, a.logger),
		Capital: handler.NewCapitalHandler(deps.Vault, a.logger),
		Fees:    handler.NewFeeHandler(deps.Vault, a.logger),
		Admin:   handler.NewAdminHandler(deps.Vault, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimitPerMin,
		RateWindow:  time.Minute,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startScheduler registers and starts the cron jobs, stopping them when the
// context is cancelled.
func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Archiver == nil {
		a.logger.InfoContext(ctx, "object storage disabled, archival job will not run")
	}

	sched := scheduler.New(scheduler.Config{
		FeeCollectionCron:    a.cfg.Scheduler.FeeCollectionCron,
		ArchiveCron:          a.cfg.Scheduler.ArchiveCron,
		ArchiveRetentionDays: a.cfg.Scheduler.ArchiveRetentionDays,
		LockTTL:              a.cfg.Scheduler.LockTTL.Duration,
		Caller:               a.cfg.Protocol.Admin,
	}, deps.Vault, deps.Archiver, deps.LockManager, a.logger)

	if err := sched.Register(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	sched.Start()

	g.Go(func() error {
		<-ctx.Done()
		sched.Stop()
		return ctx.Err()
	})

	a.logger.InfoContext(ctx, "scheduler running",
		slog.String("fee_cron", a.cfg.Scheduler.FeeCollectionCron),
	)
	return nil
}
