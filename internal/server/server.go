// Package server exposes the vault over HTTP and WebSocket. Routes use the
// Go 1.22 ServeMux patterns; requests flow through CORS, logging, rate-limit,
// and auth middleware before reaching handlers.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lhermoso/grid-vault/internal/domain"
	"github.com/lhermoso/grid-vault/internal/server/handler"
	"github.com/lhermoso/grid-vault/internal/server/middleware"
	"github.com/lhermoso/grid-vault/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// rate limiting even when a limiter is supplied.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Vault   *handler.VaultHandler
	Capital *handler.CapitalHandler
	Fees    *handler.FeeHandler
	Admin   *handler.AdminHandler
}

// Server is the headless HTTP + WebSocket API server for the vault.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// The limiter may be nil to run without rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Depositor endpoints.
	mux.HandleFunc("POST /api/vault/deposit", handlers.Vault.Deposit)
	mux.HandleFunc("POST /api/vault/withdraw", handlers.Vault.Withdraw)
	mux.HandleFunc("POST /api/vault/positions", handlers.Vault.CreatePosition)
	mux.HandleFunc("GET /api/vault/positions", handlers.Vault.ListPositions)
	mux.HandleFunc("GET /api/vault/positions/{owner}", handlers.Vault.GetPosition)
	mux.HandleFunc("GET /api/vault/balance/{owner}", handlers.Vault.GetBalance)
	mux.HandleFunc("GET /api/vault/stats", handlers.Vault.GetProtocolStats)
	mux.HandleFunc("GET /api/vault/users/{owner}/stats", handlers.Vault.GetUserStats)

	// Operator capital endpoints.
	mux.HandleFunc("POST /api/capital/deploy", handlers.Capital.Deploy)
	mux.HandleFunc("POST /api/capital/return", handlers.Capital.Return)

	// Fee endpoints.
	mux.HandleFunc("POST /api/fees/collect", handlers.Fees.Collect)
	mux.HandleFunc("POST /api/fees/collect-batch", handlers.Fees.CollectBatch)
	mux.HandleFunc("POST /api/fees/sweep", handlers.Fees.Sweep)

	// Admin endpoints.
	mux.HandleFunc("POST /api/admin/init", handlers.Admin.Initialize)
	mux.HandleFunc("POST /api/admin/pause", handlers.Admin.Pause)
	mux.HandleFunc("POST /api/admin/unpause", handlers.Admin.Unpause)
	mux.HandleFunc("GET /api/events", handlers.Admin.ListEvents)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux

	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}
	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

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

// corsMiddleware returns middleware that sets CORS headers for the allowed
// origins. If no origins are specified, it defaults to allowing all origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			// Handle preflight requests.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
