// Package worker runs the outbox dispatch loop: claim a batch of eligible
// outbox rows, dispatch each in its own transaction, and record the
// outcome - grounded on the source system's app/worker.py run_once/main
// polling loop, translated into a single-goroutine ticker rather than a
// sleep(1.0) busy-loop.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/qhse-systems/qhse-outbox/internal/correlation"
	"github.com/qhse-systems/qhse-outbox/internal/outbox"
	"github.com/qhse-systems/qhse-outbox/internal/storage"
)

// Worker polls the outbox for claimable events and dispatches them one at a
// time, each under its own transaction boundary, so a failure in one event
// never rolls back another's successful effect.
type Worker struct {
	cfg         *Config
	outboxStore *storage.OutboxStore
	dispatcher  *outbox.Dispatcher
	metrics     *Metrics
	logger      *slog.Logger
}

// New creates a Worker.
func New(cfg *Config, outboxStore *storage.OutboxStore, dispatcher *outbox.Dispatcher, metrics *Metrics, logger *slog.Logger) *Worker {
	return &Worker{
		cfg:         cfg,
		outboxStore: outboxStore,
		dispatcher:  dispatcher,
		metrics:     metrics,
		logger:      logger,
	}
}

// Run polls forever at cfg.PollInterval until ctx is cancelled. A
// cancellation signal is only honored between iterations: the current
// iteration's claimed batch is always fully dispatched first, so no event is
// ever left locked by a clean shutdown.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		n, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("poll iteration failed", slog.Any("error", err))
		} else if n > 0 {
			w.logger.Info("processed outbox events", slog.Int("count", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims up to cfg.BatchSize eligible events, dispatches each in its
// own transaction, and refreshes the backlog gauges. It returns the number
// of events successfully dispatched (DONE), mirroring the source system's
// run_once return value.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		w.metrics.PollDuration.Observe(time.Since(start).Seconds())
	}()

	batchID := correlation.NewRequestID()
	batchCtx := correlation.WithRequestID(ctx, "worker-batch:"+batchID)

	events, err := w.outboxStore.Claim(batchCtx, w.cfg.WorkerID, w.cfg.BatchSize, w.cfg.LockTimeout)
	if err != nil {
		w.metrics.ClaimsTotal.WithLabelValues("error").Inc()

		return 0, err
	}

	if len(events) == 0 {
		w.metrics.ClaimsTotal.WithLabelValues("empty").Inc()
	} else {
		w.metrics.ClaimsTotal.WithLabelValues("ok").Inc()
	}

	processed := 0

	// Claimed events are dispatched even if ctx is cancelled meanwhile, so a
	// shutdown never leaves them PROCESSING.
	dispatchCtx := context.WithoutCancel(ctx)

	for _, event := range events {
		if w.dispatchOne(dispatchCtx, event) {
			processed++
		}
	}

	w.refreshBacklog(ctx)

	return processed, nil
}

// dispatchOne handles a single claimed event. The idempotency check, the
// handler's business effect and audit write, the processed-event ledger
// insert, and the DONE transition all run inside the one transaction opened
// by OutboxStore.Dispatch, so a crash or error anywhere in that sequence
// leaves no partial trace: no audit row, no ledger entry, no DONE status.
// dispatchOne itself never lets an error escape - failures are recorded on
// the row itself (PENDING for retry, or FAILED once attempts are exhausted)
// per the at-least-once-delivery contract.
func (w *Worker) dispatchOne(ctx context.Context, event *storage.OutboxEvent) bool {
	eventCtx := correlation.WithRequestID(ctx, correlation.RequestID(ctx)+":"+event.EventID)

	jobStart := time.Now()
	defer func() {
		w.metrics.JobDuration.WithLabelValues(event.EventType).Observe(time.Since(jobStart).Seconds())
	}()

	_, err := w.outboxStore.Dispatch(eventCtx, event, func(tx *sql.Tx) error {
		return w.dispatcher.Dispatch(eventCtx, tx, event)
	})
	if err != nil {
		w.logger.Error("dispatch failed",
			slog.Int64("outbox_id", event.ID),
			slog.String("event_type", event.EventType),
			slog.Int("attempts", event.Attempts),
			slog.Bool("unknown_event_type", errors.Is(err, outbox.ErrUnknownEventType)),
			slog.Any("error", err),
		)
		w.failOrRequeue(eventCtx, event)

		return false
	}

	w.metrics.JobsProcessedTotal.WithLabelValues(storage.OutboxStatusDone, event.EventType).Inc()

	return true
}

func (w *Worker) failOrRequeue(ctx context.Context, event *storage.OutboxEvent) {
	status := storage.OutboxStatusPending
	if event.Attempts >= w.cfg.MaxAttempts {
		status = storage.OutboxStatusFailed
	}

	if err := w.outboxStore.MarkFailedOrRequeue(ctx, event, w.cfg.MaxAttempts); err != nil {
		w.logger.Error("mark failed/requeue failed",
			slog.String("event_id", event.EventID), slog.Any("error", err))

		return
	}

	w.metrics.JobsProcessedTotal.WithLabelValues(status, event.EventType).Inc()
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	count, oldestAge, err := w.outboxStore.BacklogStats(ctx)
	if err != nil {
		w.logger.Error("backlog stats failed", slog.Any("error", err))

		return
	}

	w.metrics.BacklogGauge.Set(float64(count))
	w.metrics.OldestUnprocessed.Set(oldestAge)
}
