// Package api provides the HTTP API server for the qhse-outbox service.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qhse-systems/qhse-outbox/internal/api/middleware"
	"github.com/qhse-systems/qhse-outbox/internal/auth"
	"github.com/qhse-systems/qhse-outbox/internal/storage"
)

// Server represents the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	config     *ServerConfig
	startTime  time.Time

	supplierStore *storage.SupplierStore
	ncStore       *storage.NCStore
	auditStore    *storage.AuditStore
	kpiStore      *storage.KPIStore
	healthChecker *storage.HealthChecker
	tokenIssuer   *auth.TokenIssuer
	userStore     *auth.UserStore
}

// NewServer creates a new HTTP server instance with structured logging and middleware stack.
//
// Dependencies are injected explicitly rather than being part of ServerConfig.
// This follows the dependency injection pattern where configuration (what) is
// separated from dependencies (how).
func NewServer(
	cfg *ServerConfig,
	supplierStore *storage.SupplierStore,
	ncStore *storage.NCStore,
	auditStore *storage.AuditStore,
	kpiStore *storage.KPIStore,
	healthChecker *storage.HealthChecker,
	tokenIssuer *auth.TokenIssuer,
	userStore *auth.UserStore,
) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	if supplierStore == nil || ncStore == nil || auditStore == nil || kpiStore == nil || healthChecker == nil {
		logger.Error("core storage dependencies are required - cannot start server")
		panic("qhse-outbox: storage dependencies cannot be nil - this indicates a configuration error")
	}

	if tokenIssuer == nil || userStore == nil {
		logger.Error("auth dependencies are required - cannot start server")
		panic("qhse-outbox: auth dependencies cannot be nil - this indicates a configuration error")
	}

	mux := http.NewServeMux()

	server := &Server{
		logger:        logger,
		config:        cfg,
		supplierStore: supplierStore,
		ncStore:       ncStore,
		auditStore:    auditStore,
		kpiStore:      kpiStore,
		healthChecker: healthChecker,
		tokenIssuer:   tokenIssuer,
		userStore:     userStore,
	}

	loginLimiter := middleware.NewInMemoryRateLimiter(&middleware.Config{
		GlobalRPS:   cfg.AuthLoginRatePerSec * 100,
		GlobalBurst: cfg.AuthLoginRateBurst * 100,
		UnAuthRPS:   cfg.AuthLoginRatePerSec,
		UnAuthBurst: cfg.AuthLoginRateBurst,
	})

	server.setupRoutes(mux, loginLimiter)

	logger.Info("JWT bearer authentication enabled")
	logger.Info("supplier, non-conformity, audit log and KPI endpoints enabled")

	// Apply the base middleware chain. Auth/role checks and the login-scoped
	// rate limiter are applied per-route in setupRoutes, since only /auth/login
	// is rate-limited and only protected routes require a bearer token.
	handler := middleware.Apply(mux,
		middleware.WithRequestID(cfg.RequestIDHeader),
		middleware.WithRecovery(logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	server.httpServer = httpServer

	return server
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting qhse-outbox API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("server shutdown completed successfully")

	return nil
}
