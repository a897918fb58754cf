package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bnbpools/poolctl/internal/notify"
	"github.com/bnbpools/poolctl/internal/orchestrator"
	"github.com/bnbpools/poolctl/internal/outbox"
	"github.com/bnbpools/poolctl/internal/poller"
	"github.com/bnbpools/poolctl/internal/server"
	"github.com/bnbpools/poolctl/internal/server/handler"
	"github.com/bnbpools/poolctl/internal/server/middleware"
	"github.com/bnbpools/poolctl/internal/server/ws"
)

// serverShutdownTimeout bounds how long a draining HTTP server may hold up
// process exit.
const serverShutdownTimeout = 10 * time.Second

// ServerMode runs the admin API, the operation orchestrator, and the
// persistence retry worker. The background sync poller is expected to run
// in a separate process (mode "poller") or alongside in mode "full".
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startHTTPServer(ctx, g, deps)
	a.startOutboxWorker(ctx, g, deps)
	a.startNotifyRelay(ctx, g, deps)

	return g.Wait()
}

// PollerMode runs only the recurring chain sync. No wallet is loaded and
// no HTTP surface is exposed.
func (a *App) PollerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting poller mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startPoller(ctx, g, deps)
	a.startNotifyRelay(ctx, g, deps)

	return g.Wait()
}

// FullMode runs every subsystem in one process: the API, the orchestrator,
// the sync poller, the retry worker, and the notification relay.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startHTTPServer(ctx, g, deps)
	a.startPoller(ctx, g, deps)
	a.startOutboxWorker(ctx, g, deps)
	a.startNotifyRelay(ctx, g, deps)

	return g.Wait()
}

// startHTTPServer adds the HTTP server, the WebSocket hub, and their
// shutdown watcher to the given errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled by config")
		return
	}

	orch := orchestrator.New(
		orchestrator.Config{LockTTL: a.cfg.Locks.TTL.Duration},
		deps.Predictions,
		deps.Actions,
		deps.Outbox,
		deps.Contract,
		deps.Locks,
		deps.Bus,
		a.logger,
	)

	hub := ws.NewHub(deps.Bus, a.cfg.Mode, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": deps.PG.Pool(),
			"redis":    deps.Redis,
		}),
		Predictions: handler.NewPredictionHandler(
			deps.Predictions,
			deps.Bets,
			deps.Contract,
			deps.Flags,
			deps.Notifier,
			a.logger,
		),
		Admin: handler.NewAdminHandler(deps.Predictions, deps.Actions, orch, a.logger),
	}

	gate := middleware.NewAllowlist(a.cfg.Admin.Allowlist)

	srv := server.New(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, handlers, gate, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startPoller adds the recurring chain sync to the given errgroup.
func (a *App) startPoller(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	p := poller.New(poller.Config{
		Interval:    a.cfg.Poller.Interval.Duration,
		Concurrency: a.cfg.Poller.Concurrency,
	}, deps.Predictions, deps.Contract, deps.Flags, deps.Bus, a.logger)

	g.Go(func() error {
		return p.Run(ctx)
	})
}

// startOutboxWorker adds the persistence retry worker to the given errgroup.
func (a *App) startOutboxWorker(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	w := outbox.NewWorker(outbox.Config{
		Interval:    a.cfg.Outbox.Interval.Duration,
		BatchSize:   a.cfg.Outbox.BatchSize,
		MaxAttempts: a.cfg.Outbox.MaxAttempts,
		BaseBackoff: a.cfg.Outbox.BaseBackoff.Duration,
	}, deps.Outbox, deps.Predictions, deps.Actions, a.logger)

	g.Go(func() error {
		return w.Run(ctx)
	})
}

// startNotifyRelay adds the bus-to-notification relay to the given errgroup.
func (a *App) startNotifyRelay(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	relay := notify.NewRelay(deps.Bus, deps.Notifier, a.logger)

	g.Go(func() error {
		return relay.Run(ctx)
	})
}
