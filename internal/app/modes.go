package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketsync/internal/feed"
	"github.com/alanyoungcy/marketsync/internal/server"
	"github.com/alanyoungcy/marketsync/internal/server/handler"
	"github.com/alanyoungcy/marketsync/internal/server/ws"
)

// checkpointTimeout bounds the final checkpoint written during shutdown.
const checkpointTimeout = 10 * time.Second

// ServerMode runs the sync layer together with the HTTP and WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode", slog.Int("port", a.cfg.Server.Port))

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startSync(ctx, g, deps); err != nil {
		return err
	}
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// HeadlessMode runs only the sync layer: the configured watch keys stay
// subscribed and polled, and the cache is checkpointed when a database is
// configured.
func (a *App) HeadlessMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting headless mode", slog.Int("watch_keys", len(deps.Watch)))
	if len(deps.Watch) == 0 {
		a.logger.WarnContext(ctx, "headless mode without watch keys; nothing will be synced")
	}

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startSync(ctx, g, deps); err != nil {
		return err
	}

	return g.Wait()
}

// startSync fills the cache from the database, acquires the watch keys and
// starts the quality monitor, poller, change relay and checkpoint loop.
func (a *App) startSync(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Markets != nil {
		n, err := feed.LoadMarkets(ctx, deps.Markets, deps.Cache)
		if err != nil {
			return fmt.Errorf("app: initial load: %w", err)
		}
		a.logger.InfoContext(ctx, "cache loaded from database", slog.Int("markets", n))
	}

	handles := make([]*feed.Handle, 0, len(deps.Watch))
	for _, k := range deps.Watch {
		h, err := deps.Manager.Acquire(k)
		if err != nil {
			for _, held := range handles {
				held.Release()
			}
			return fmt.Errorf("app: watch %s: %w", k, err)
		}
		handles = append(handles, h)
	}
	g.Go(func() error {
		<-ctx.Done()
		for _, h := range handles {
			h.Release()
		}
		return nil
	})

	g.Go(func() error {
		return deps.Monitor.Run(ctx)
	})
	g.Go(func() error {
		return deps.Poller.Run(ctx)
	})

	if deps.SignalBus != nil {
		relay := feed.NewChangeRelay(deps.Cache, deps.SignalBus, a.logger)
		g.Go(func() error {
			return relay.Run(ctx)
		})
	}

	if deps.Markets != nil && a.cfg.Sync.CheckpointInterval.Duration > 0 {
		g.Go(func() error {
			return a.runCheckpoints(ctx, deps)
		})
	}
	return nil
}

// runCheckpoints writes every cached market to the database on a fixed
// interval and once more on shutdown.
func (a *App) runCheckpoints(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Sync.CheckpointInterval.Duration
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	checkpoint := func(ctx context.Context) {
		n, err := feed.SaveMarkets(ctx, deps.Cache, deps.Markets)
		if err != nil {
			a.logger.WarnContext(ctx, "checkpoint failed", slog.String("error", err.Error()))
			return
		}
		a.logger.DebugContext(ctx, "checkpoint written", slog.Int("markets", n))
	}

	for {
		select {
		case <-ctx.Done():
			shutCtx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
			defer cancel()
			checkpoint(shutCtx)
			return nil
		case <-ticker.C:
			checkpoint(ctx)
		}
	}
}

// startHTTPServer registers the HTTP handlers and the WebSocket hub and starts
// them under g. The server is shut down when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(ws.Config{
		Cache:      deps.Cache,
		Manager:    deps.Manager,
		Connection: deps.Conn,
		Quality:    deps.Monitor,
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, time.Now().UTC(), deps.Cache.Stats),
		Markets:   handler.NewMarketHandler(deps.Cache, a.logger),
		Positions: handler.NewPositionHandler(deps.Cache),
		Status:    handler.NewStatusHandler(deps.Conn, deps.Manager, deps.Poller),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimiter: deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout.Duration
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
