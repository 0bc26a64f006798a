// Package main runs the qhse-outbox dispatch worker.
//
// It polls the outbox_events table, dispatches each claimed event to its
// handler, and exposes a Prometheus /metrics endpoint plus a readiness probe
// (/readyz) on cfg.MetricsPort. Scale it horizontally: FOR UPDATE SKIP LOCKED makes
// concurrent workers claim disjoint batches safely.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qhse-systems/qhse-outbox/internal/outbox"
	"github.com/qhse-systems/qhse-outbox/internal/storage"
	"github.com/qhse-systems/qhse-outbox/internal/worker"
)

const (
	version = "1.0.0-dev"
	name    = "qhse-outbox-worker"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	cfg := worker.LoadConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid worker configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("starting qhse-outbox worker",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("worker_id", cfg.WorkerID),
		slog.Int("batch_size", cfg.BatchSize),
		slog.Duration("lock_timeout", cfg.LockTimeout),
		slog.Int("max_attempts", cfg.MaxAttempts),
		slog.Duration("poll_interval", cfg.PollInterval),
	)

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

	outboxStore, err := storage.NewOutboxStore(conn, logger)
	if err != nil {
		logger.Error("failed to create outbox store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	auditStore, err := storage.NewAuditStore(conn)
	if err != nil {
		logger.Error("failed to create audit store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	healthChecker, err := storage.NewHealthChecker(conn, cfg.MigrationsTable, cfg.MigrationsPath, cfg.Env)
	if err != nil {
		logger.Error("failed to create health checker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	dispatcher := outbox.NewDispatcher(auditStore)
	metrics := worker.NewMetrics()
	w := worker.New(cfg, outboxStore, dispatcher, metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsServer := newMetricsServer(cfg.MetricsPort, metrics, healthChecker, logger)

	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()

	w.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PollInterval)
	defer cancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	logger.Info("qhse-outbox worker stopped")
}

// newMetricsServer exposes Prometheus metrics plus a readiness probe, bound
// to its own port so it can be scraped independently of the worker's
// database-polling loop.
func newMetricsServer(port int, metrics *worker.Metrics, healthChecker *storage.HealthChecker, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := healthChecker.Ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, `{"status":"not_ready","detail":%q}`, err.Error())

			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `{"status":"ok"}`)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
}
