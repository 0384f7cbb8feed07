package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/controlledtrade/substance-compliance-backend/internal/infrastructure/config"
)

// Server hosts the compliance REST API.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer wires the handler routes into the standard middleware chain.
func NewServer(cfg *config.Config, logger *slog.Logger, handler *Handler) *Server {
	routes := Chain(handler.Routes(),
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		TracingMiddleware,
		LoggingMiddleware(logger),
		MetricsMiddleware,
		RateLimitMiddleware(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.BurstSize),
		TimeoutMiddleware(cfg.Compliance.ValidationTimeout),
	)

	return &Server{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      routes,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("http server shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
