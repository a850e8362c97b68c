package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nftbazaar/marketd/internal/server"
	"github.com/nftbazaar/marketd/internal/server/handler"
	"github.com/nftbazaar/marketd/internal/server/ws"
	"github.com/nftbazaar/marketd/internal/service"
)

// archiveSweepInterval is how often the archive loop checks for journal
// events past retention.
const archiveSweepInterval = 24 * time.Hour

// ServerMode rehydrates the ledger and serves the HTTP + WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	svc, err := a.buildMarketService(ctx, deps)
	if err != nil {
		return err
	}

	a.startHTTPServer(ctx, g, deps, svc)

	return g.Wait()
}

// ArchiveMode runs the journal archival loop without the API surface.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiveLoop(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the API server and the archival loop together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svc, err := a.buildMarketService(ctx, deps)
	if err != nil {
		return err
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	}
	a.startArchiveLoop(ctx, g, deps)

	return g.Wait()
}

// buildMarketService assembles the service layer and rehydrates the ledger
// from the durable store.
func (a *App) buildMarketService(ctx context.Context, deps *Dependencies) (*service.MarketService, error) {
	svc := service.NewMarketService(
		deps.Ledger,
		deps.ListingStore,
		deps.EventStore,
		deps.ListingCache,
		deps.LockManager,
		deps.SignalBus,
		deps.Notifier,
		a.logger,
	)

	if err := svc.Rehydrate(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.MarketService) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(a.logger),
		Listings: handler.NewListingHandler(svc, a.logger),
		Market:   handler.NewMarketHandler(svc, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchiveLoop sweeps resolved journal events into blob storage on a
// fixed interval. A no-op when archival is disabled or S3 is not wired.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		a.logger.InfoContext(ctx, "archiver not wired, skipping archive loop")
		return
	}

	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(archiveSweepInterval)
		defer ticker.Stop()

		for {
			cutoff := time.Now().UTC().Add(-retention)
			count, err := deps.Archiver.ArchiveEvents(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive sweep failed",
					slog.String("error", err.Error()),
				)
			} else if count > 0 {
				a.logger.InfoContext(ctx, "archive sweep complete",
					slog.Int64("archived", count),
				)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
}
