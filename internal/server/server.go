// Package server exposes the HTTP and websocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/roundbet/internal/domain"
	"github.com/alanyoungcy/roundbet/internal/server/handler"
	"github.com/alanyoungcy/roundbet/internal/server/middleware"
	"github.com/alanyoungcy/roundbet/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey gates every route except health and metrics. Empty disables it.
	APIKey string
	// RateLimit is the per-caller request budget per RateWindow. Zero
	// disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the route handlers. Health is required; a nil game
// handler leaves its routes unregistered, which gives the clock process an
// ops-only listener.
type Handlers struct {
	Health  *handler.HealthHandler
	Rounds  *handler.RoundHandler
	Bets    *handler.BetHandler
	Wallets *handler.WalletHandler
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and builds the middleware chain
// CORS -> Identity -> Logging -> Auth -> RateLimit. gatherer serves /metrics;
// hub may be nil to disable /ws.
func NewServer(
	cfg Config,
	h Handlers,
	hub *ws.Hub,
	limiter domain.RateLimiter,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           Routes(cfg, h, hub, limiter, gatherer, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Routes builds the full handler. Exposed for tests.
func Routes(
	cfg Config,
	h Handlers,
	hub *ws.Hub,
	limiter domain.RateLimiter,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/ready", h.Health.Ready)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	if h.Rounds != nil {
		mux.HandleFunc("GET /api/rounds/classes", h.Rounds.ListClasses)
		mux.HandleFunc("GET /api/rounds/current", h.Rounds.GetCurrent)
		mux.HandleFunc("GET /api/rounds/history", h.Rounds.ListHistory)
		mux.HandleFunc("GET /api/rounds/{id}/totals", h.Rounds.GetTotals)
		mux.HandleFunc("GET /api/rounds/{id}/result", h.Rounds.GetResult)
	}
	if h.Bets != nil {
		mux.HandleFunc("POST /api/bets", h.Bets.PlaceBet)
		mux.HandleFunc("GET /api/bets", h.Bets.ListBets)
		mux.HandleFunc("DELETE /api/bets/{id}", h.Bets.CancelBet)
	}
	if h.Wallets != nil {
		mux.HandleFunc("GET /api/wallet", h.Wallets.GetWallet)
		mux.HandleFunc("POST /api/wallet/demo/topup", h.Wallets.DemoTopUp)
	}

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var handler http.Handler = mux
	handler = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(handler)
	handler = middleware.Auth(cfg.APIKey, "/api/health", "/api/ready", "/metrics")(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Identity(handler)
	handler = middleware.CORS(cfg.CORSOrigins)(handler)
	return handler
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
