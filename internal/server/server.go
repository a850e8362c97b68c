// Package server exposes the marketplace over an HTTP + WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nftbazaar/marketd/internal/domain"
	"github.com/nftbazaar/marketd/internal/server/handler"
	"github.com/nftbazaar/marketd/internal/server/middleware"
	"github.com/nftbazaar/marketd/internal/server/ws"
)

// apiRateLimit bounds requests per client IP within apiRateWindow. Applied
// only when a rate limiter is wired.
const (
	apiRateLimit  = 60
	apiRateWindow = time.Minute
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Listings *handler.ListingHandler
	Market   *handler.MarketHandler
}

// Server is the headless HTTP + WebSocket API server for the marketplace.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limiting, logging, CORS, auth) and attaches
// the WebSocket hub. The limiter may be nil to disable rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Listing endpoints.
	mux.HandleFunc("GET /api/listings", handlers.Listings.ListAvailable)
	mux.HandleFunc("POST /api/listings", handlers.Listings.CreateListing)
	mux.HandleFunc("GET /api/listings/selling", handlers.Listings.ListSelling)
	mux.HandleFunc("GET /api/listings/owned", handlers.Listings.ListOwned)
	mux.HandleFunc("GET /api/listings/{id}", handlers.Listings.GetListing)
	mux.HandleFunc("POST /api/listings/{id}/buy", handlers.Listings.BuyListing)
	mux.HandleFunc("POST /api/listings/{id}/cancel", handlers.Listings.CancelListing)

	// Token endpoints.
	mux.HandleFunc("GET /api/tokens/{tokenId}/latest-listing", handlers.Listings.LatestByToken)

	// Market metadata endpoints.
	mux.HandleFunc("GET /api/market/fee", handlers.Market.GetFee)
	mux.HandleFunc("GET /api/market/stats", handlers.Market.GetStats)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply per-client rate limiting when a limiter is available.
	if limiter != nil {
		h = middleware.RateLimit(limiter, apiRateLimit, apiRateWindow)(h)
	}

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
