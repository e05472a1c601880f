package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/dexsniper/internal/domain"
	"github.com/alanyoungcy/dexsniper/internal/server/handler"
	"github.com/alanyoungcy/dexsniper/internal/server/middleware"
	"github.com/alanyoungcy/dexsniper/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	AdminKey    string // if empty, admin endpoints are disabled
	Operator    string
	RateLimit   int // requests per RateWindow per client IP; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Candidates *handler.CandidateHandler
	Positions  *handler.PositionHandler
	Accounts   *handler.AccountHandler
	Policy     *handler.PolicyHandler
	Exits      *handler.ExitHandler
	Metrics    http.Handler
}

// Server is the HTTP + WebSocket API of the engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS, logging, auth
// and rate limiting, outermost first.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	admin := middleware.Admin(cfg.AdminKey, cfg.Operator)
	adminFunc := func(fn http.HandlerFunc) http.Handler { return admin(fn) }

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	mux.HandleFunc("POST /api/candidates/evaluate", h.Candidates.Evaluate)
	mux.HandleFunc("GET /api/discovery/latest", h.Candidates.Latest)

	mux.HandleFunc("POST /api/snipes", h.Positions.Snipe)
	mux.HandleFunc("GET /api/positions", h.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/{id}", h.Positions.GetPosition)
	mux.HandleFunc("POST /api/positions/{id}/exit", h.Positions.Exit)
	mux.Handle("POST /api/positions/{id}/emergency", adminFunc(h.Positions.EmergencyExit))
	if h.Exits != nil {
		mux.HandleFunc("GET /api/exits", h.Exits.Recent)
	}

	mux.HandleFunc("GET /api/accounts/{id}", h.Accounts.GetAccount)
	mux.HandleFunc("POST /api/accounts/{id}/deposit", h.Accounts.Deposit)
	mux.HandleFunc("POST /api/accounts/{id}/withdraw", h.Accounts.Withdraw)
	mux.HandleFunc("GET /api/accounts/{id}/pnl", h.Accounts.ProfitLoss)
	mux.HandleFunc("GET /api/stats", h.Accounts.Stats)

	mux.HandleFunc("GET /api/policy", h.Policy.GetPolicy)
	mux.Handle("PUT /api/policy", adminFunc(h.Policy.UpdatePolicy))
	mux.HandleFunc("GET /api/policy/history", h.Policy.History)
	mux.Handle("POST /api/policy/pause", adminFunc(h.Policy.Pause))
	mux.Handle("POST /api/policy/resume", adminFunc(h.Policy.Resume))
	mux.HandleFunc("GET /api/blacklist", h.Policy.ListBlacklist)
	mux.Handle("PUT /api/blacklist/{token}", adminFunc(h.Policy.AddBlacklist))
	mux.Handle("DELETE /api/blacklist/{token}", adminFunc(h.Policy.RemoveBlacklist))

	var handler http.Handler = mux
	handler = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(handler)
	handler = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.CORS(cfg.CORSOrigins)(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Port),
			Handler:     handler,
			ReadTimeout: 15 * time.Second,
			// Snipes and exits wait for the swap receipt.
			WriteTimeout: 6 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
