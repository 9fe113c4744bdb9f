package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MPZ-00/m5squared/internal/auth"
	"github.com/MPZ-00/m5squared/internal/config"
)

// AuditPort records session actions taken through the API.
type AuditPort interface {
	LogAction(ctx context.Context, action, detail, outcome string, latency time.Duration)
}

// Server is the controller's HTTP API server.
type Server struct {
	httpServer *http.Server
	sup        SupervisorPort
	hub        TelemetryPort
	audit      AuditPort
	middleware *auth.Middleware
	cfg        config.APIConfig
	startTime  time.Time
}

// NewServer wires the API against the supervisor and event hub. The
// auth middleware may be nil when the deployment runs without tokens.
func NewServer(sup SupervisorPort, hub TelemetryPort, audit AuditPort, middleware *auth.Middleware, cfg config.APIConfig) *Server {
	return &Server{
		sup:        sup,
		hub:        hub,
		audit:      audit,
		middleware: middleware,
		cfg:        cfg,
		startTime:  time.Now(),
	}
}

// Start runs the HTTP server. Blocks until the server stops.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      mux,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
