// Package main provides the qhse-outbox HTTP API service.
//
// It exposes supplier and non-conformity management endpoints. NC creation,
// NC closure, and supplier certification updates mutate business state and
// enqueue an outbox event in the same database transaction; supplier
// creation enqueues no event. A separate worker process (cmd/worker) is
// responsible for dispatching those events.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/qhse-systems/qhse-outbox/internal/api"
	"github.com/qhse-systems/qhse-outbox/internal/auth"
	"github.com/qhse-systems/qhse-outbox/internal/config"
	"github.com/qhse-systems/qhse-outbox/internal/storage"
)

const (
	version = "1.0.0-dev"
	name    = "qhse-outbox-api"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("starting qhse-outbox API service",
		slog.String("service", name),
		slog.String("version", version),
	)

	if err := serverConfig.Validate(); err != nil {
		logger.Error("invalid server configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	storageConfig := storage.LoadConfig()

	conn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.String("error", err.Error()))
		}
	}()

	supplierStore, err := storage.NewSupplierStore(conn, logger)
	if err != nil {
		logger.Error("failed to create supplier store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ncStore, err := storage.NewNCStore(conn, logger)
	if err != nil {
		logger.Error("failed to create non-conformity store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	auditStore, err := storage.NewAuditStore(conn)
	if err != nil {
		logger.Error("failed to create audit store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	kpiStore, err := storage.NewKPIStore(conn)
	if err != nil {
		logger.Error("failed to create KPI store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	healthChecker, err := storage.NewHealthChecker(conn, serverConfig.MigrationsTable, serverConfig.MigrationsPath, serverConfig.Env)
	if err != nil {
		logger.Error("failed to create health checker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	tokenIssuer := auth.NewTokenIssuer(serverConfig.JWTSecret, serverConfig.JWTAlg, serverConfig.AccessTokenTTL())

	overrides := config.LoadUsersOverrideFromEnv(logger)

	userStore, err := auth.NewUserStore(overrides)
	if err != nil {
		logger.Error("failed to create user store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	server := api.NewServer(&serverConfig, supplierStore, ncStore, auditStore, kpiStore, healthChecker, tokenIssuer, userStore)

	if err := server.Start(); err != nil {
		logger.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("qhse-outbox API service stopped")
}
