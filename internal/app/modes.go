package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/roundbet/internal/admission"
	"github.com/alanyoungcy/roundbet/internal/archive"
	"github.com/alanyoungcy/roundbet/internal/broadcast"
	"github.com/alanyoungcy/roundbet/internal/config"
	"github.com/alanyoungcy/roundbet/internal/ledger"
	"github.com/alanyoungcy/roundbet/internal/observability"
	"github.com/alanyoungcy/roundbet/internal/round"
	"github.com/alanyoungcy/roundbet/internal/server"
	"github.com/alanyoungcy/roundbet/internal/server/handler"
	"github.com/alanyoungcy/roundbet/internal/server/ws"
	"github.com/alanyoungcy/roundbet/internal/settlement"
)

// components are the game services built on top of Dependencies.
type components struct {
	deps      *Dependencies
	amounts   config.Amounts
	metrics   *observability.Metrics
	ledger    *ledger.Ledger
	events    *broadcast.Broadcaster
	engine    *settlement.Engine
	clock     *round.Clock
	admission *admission.Controller
	archive   *archive.Runner
}

func (a *App) build(deps *Dependencies) (*components, error) {
	amounts, err := a.cfg.Game.Amounts()
	if err != nil {
		return nil, fmt.Errorf("game amounts: %w", err)
	}

	metrics := observability.NewMetrics(a.registry)
	ldg := ledger.New(deps.Wallets, a.logger).WithMetrics(metrics)
	gate := round.NewGate()
	events := broadcast.New(deps.Bus, metrics, a.cfg.Game.PerClassChannels, a.logger)

	engine := settlement.NewEngine(settlement.Deps{
		Rounds:  deps.Rounds,
		Bets:    deps.Bets,
		Ledger:  ldg,
		Gate:    gate,
		Locks:   deps.Locks,
		Totals:  deps.Totals,
		Audit:   deps.Audit,
		Events:  events,
		Alerter: deps.Notifier,
		Metrics: metrics,
	}, a.logger)

	clock := round.New(round.Config{
		Classes:        a.cfg.Game.DurationClasses(),
		SettleRetry:    a.cfg.Game.SettleRetry.Duration,
		SettleRetryMax: a.cfg.Game.SettleRetryMax.Duration,
		TickInterval:   a.cfg.Game.TickInterval.Duration,
	}, deps.Rounds, engine, events, metrics, a.logger)

	ctrl := admission.NewController(admission.Config{
		MinStake:            amounts.MinStake,
		MaxStake:            amounts.MaxStake,
		MaxOpenBetsPerRound: a.cfg.Game.MaxOpenBetsPerRound,
		RateLimit:           a.cfg.Game.BetRateLimit,
		RateWindow:          a.cfg.Game.BetRateWindow.Duration,
	}, admission.Deps{
		Rounds:    deps.Rounds,
		Bets:      deps.Bets,
		Ledger:    ldg,
		Gate:      gate,
		Directory: deps.Directory,
		Limiter:   deps.Limiter,
		Totals:    deps.Totals,
		Events:    events,
		Metrics:   metrics,
	}, a.logger)

	c := &components{
		deps:      deps,
		amounts:   amounts,
		metrics:   metrics,
		ledger:    ldg,
		events:    events,
		engine:    engine,
		clock:     clock,
		admission: ctrl,
	}
	if a.cfg.Archive.Enabled && deps.BlobWriter != nil {
		arch := archive.New(deps.Rounds, engine, deps.BlobWriter, deps.BlobReader, deps.Audit, metrics, a.logger)
		c.archive = archive.NewRunner(arch, a.cfg.Archive.Retention.Duration, a.logger)
	}
	return c, nil
}

// FullMode runs the round clock, the API server and the archiver in one
// process.
func (a *App) FullMode(ctx context.Context, c *components) error {
	a.logger.InfoContext(ctx, "starting full mode", slog.Int("classes", len(a.cfg.Game.Classes)))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.clock.Run(ctx)
	})
	a.startHTTPServer(ctx, g, c, true)
	a.startArchiver(ctx, g, c)
	return g.Wait()
}

// ServerMode serves the API only. Rounds are driven by a clock process
// sharing the same Postgres and Redis.
func (a *App) ServerMode(ctx context.Context, c *components) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, c, true)
	return g.Wait()
}

// ClockMode runs the round clock, settlement and the archiver, with an
// ops-only listener for health and metrics.
func (a *App) ClockMode(ctx context.Context, c *components) error {
	a.logger.InfoContext(ctx, "starting clock mode", slog.Int("classes", len(a.cfg.Game.Classes)))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.clock.Run(ctx)
	})
	a.startHTTPServer(ctx, g, c, false)
	a.startArchiver(ctx, g, c)
	return g.Wait()
}

// startHTTPServer adds the HTTP server goroutines to g. With game false only
// health, readiness and metrics are served. The server is shut down
// gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, c *components, game bool) {
	h := server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, c.deps.Checks, a.logger),
	}
	var hub *ws.Hub
	if game {
		h.Rounds = handler.NewRoundHandler(c.clock, c.deps.Rounds, c.deps.Totals, c.engine, a.logger)
		h.Bets = handler.NewBetHandler(c.admission, c.deps.Bets, a.logger)
		h.Wallets = handler.NewWalletHandler(c.ledger, c.events, c.amounts.InitialDemoBalance, a.logger)

		hub = ws.NewHub(c.deps.Bus, c.metrics, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, h, hub, c.deps.Limiter, a.registry, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchiver adds the archive runner to g when the archive is enabled.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, c *components) {
	if c.archive == nil {
		return
	}
	if a.cfg.Archive.Schedule != "" {
		g.Go(func() error {
			return c.archive.RunCron(ctx, a.cfg.Archive.Schedule)
		})
		return
	}
	g.Go(func() error {
		return c.archive.Run(ctx, a.cfg.Archive.Interval.Duration)
	})
}
