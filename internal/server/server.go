package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/server/handler"
	"github.com/alanyoungcy/flowbot/internal/server/middleware"
	"github.com/alanyoungcy/flowbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps API requests per client IP per RateWindow. Zero disables
	// rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Positions *handler.PositionHandler
	Outcomes  *handler.OutcomeHandler
	Weights   *handler.WeightsHandler
	Decisions *handler.DecisionHandler
	Regime    *handler.RegimeHandler
	Learner   *handler.LearnerHandler

	// Archive is optional; its routes are registered only when blob storage
	// is configured.
	Archive *handler.ArchiveHandler
}

// Server is the ops HTTP + WebSocket API for the scoring engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. API routes sit behind
// auth, rate limiting, logging, and CORS; /healthz and /metrics stay open so
// probes and scrapers work without credentials. limiter and registry may be
// nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, registry *prometheus.Registry, logger *slog.Logger) *Server {
	api := http.NewServeMux()

	api.HandleFunc("GET /api/v1/status", handlers.Status.GetStatus)
	api.HandleFunc("GET /api/v1/positions", handlers.Positions.ListOpen)
	api.HandleFunc("GET /api/v1/positions/history", handlers.Positions.ListHistory)
	api.HandleFunc("GET /api/v1/outcomes", handlers.Outcomes.ListRecent)
	api.HandleFunc("GET /api/v1/outcomes/stats", handlers.Outcomes.GetStats)
	api.HandleFunc("GET /api/v1/weights", handlers.Weights.GetWeights)
	api.HandleFunc("GET /api/v1/decisions", handlers.Decisions.ListRecent)
	api.HandleFunc("GET /api/v1/regime/history", handlers.Regime.ListHistory)
	api.HandleFunc("POST /api/v1/learner/update", handlers.Learner.TriggerUpdate)

	if handlers.Archive != nil {
		api.HandleFunc("GET /api/v1/archive", handlers.Archive.List)
		api.HandleFunc("GET /api/v1/archive/outcomes/{month}", handlers.Archive.GetOutcomes)
	}

	if wsHub != nil {
		api.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain around API routes.
	var apiHandler http.Handler = api
	apiHandler = middleware.Auth(cfg.APIKey)(apiHandler)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		apiHandler = middleware.RateLimit(limiter, cfg.RateLimit, window)(apiHandler)
	}
	apiHandler = middleware.Logging(logger)(apiHandler)
	apiHandler = middleware.CORS(cfg.CORSOrigins)(apiHandler)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", handlers.Health.HealthCheck)
	if registry != nil {
		root.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	root.Handle("/", apiHandler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
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
