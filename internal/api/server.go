// Package api serves the control and status API of a running engine.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/api/handler"
	"github.com/newthinker/tradecore/internal/api/middleware"
	"github.com/newthinker/tradecore/internal/api/response"
	"github.com/newthinker/tradecore/internal/metrics"
)

// Server represents the HTTP control server.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux
	auth       func(http.Handler) http.Handler
	started    time.Time
}

// Config holds server configuration.
type Config struct {
	Addr   string
	APIKey string // empty disables authentication
}

// Dependencies holds what the routes serve. Nil members leave their
// routes unregistered.
type Dependencies struct {
	Engine     handler.Engine
	Strategies handler.StrategyLister
	Backtests  *handler.BacktestHandler
	Metrics    *metrics.Registry
}

// NewServer creates a new HTTP server.
func NewServer(cfg Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if cfg.Addr == "" {
		return nil, errors.New("api: listen address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	var h http.Handler = mux
	if deps.Metrics != nil {
		h = metrics.HTTPMiddleware(deps.Metrics)(mux)
	}

	s := &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger:  logger,
		mux:     mux,
		auth:    middleware.APIKeyAuth(cfg.APIKey),
		started: time.Now(),
	}
	s.setupRoutes(deps)
	return s, nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(deps Dependencies) {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	if deps.Engine != nil {
		th := handler.NewTradingHandler(deps.Engine, s.logger)
		s.handle("GET /api/v1/positions", th.Positions)
		s.handle("GET /api/v1/trades", th.Trades)
		s.handle("GET /api/v1/daily", th.Daily)
		s.handle("GET /api/v1/reports/performance", th.Performance)
		s.handle("GET /api/v1/reports/risk", th.Risk)
		s.handle("POST /api/v1/emergency-stop", th.EmergencyStop)
	}
	if deps.Strategies != nil {
		s.handle("GET /api/v1/strategies", handler.Strategies(deps.Strategies))
	}
	if deps.Backtests != nil {
		s.handle("POST /api/v1/backtests", deps.Backtests.Create)
		s.handle("GET /api/v1/backtests", deps.Backtests.List)
		s.handle("GET /api/v1/backtests/{id}", deps.Backtests.Get)
	}
}

func (s *Server) handle(pattern string, fn http.HandlerFunc) {
	s.mux.Handle(pattern, s.auth(fn))
}

// Handler returns the root handler, including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}
