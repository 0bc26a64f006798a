package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/qhse-systems/qhse-outbox/internal/correlation"
)

// Sentinel errors for outbox storage operations.
var (
	// ErrOutboxStoreFailed wraps unexpected failures while reading or writing outbox rows.
	ErrOutboxStoreFailed = errors.New("outbox storage failed")
	// ErrEventNotFound is returned when an outbox event id does not exist.
	ErrEventNotFound = errors.New("outbox event not found")
)

// enqueueEvent inserts an outbox row within an already-open business
// transaction tx, so the enqueue and the business mutation it accompanies
// commit or roll back together. The event id is a fresh UUID; meta carries
// the ambient correlation id (and traceparent, if present) pulled from ctx.
func enqueueEvent(ctx context.Context, tx *sql.Tx, eventType string, payload json.RawMessage) error {
	meta, err := correlation.MergeMeta(ctx, nil)
	if err != nil {
		return fmt.Errorf("merge event meta: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox_events (event_id, event_type, payload, meta, status, attempts)
		 VALUES ($1, $2, $3, $4, $5, 0)`,
		uuid.NewString(), eventType, payload, meta, OutboxStatusPending,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	return nil
}

// OutboxStore implements the worker's side of the outbox: claiming pending
// (or stale-locked) rows and recording dispatch outcomes.
type OutboxStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewOutboxStore creates a PostgreSQL-backed OutboxStore.
func NewOutboxStore(conn *Connection, logger *slog.Logger) (*OutboxStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &OutboxStore{conn: conn, logger: logger}, nil
}

// Claim selects up to batchSize events that are either PENDING or PROCESSING
// with a locked_at older than lockTimeout (stale-lock reclaim), locks them
// with FOR UPDATE SKIP LOCKED so concurrent workers never double-claim the
// same row, marks them PROCESSING under workerID, and increments their attempt
// counter - including on a reclaim, per the cumulative-attempts contract.
func (s *OutboxStore) Claim(
	ctx context.Context, workerID string, batchSize int, lockTimeout time.Duration,
) ([]*OutboxEvent, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %w", ErrOutboxStoreFailed, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, event_id, event_type, payload, meta, status, attempts, locked_by, locked_at, created_at, processed_at
		 FROM outbox_events
		 WHERE status = $1
		    OR (status = $2 AND locked_at < $3)
		 ORDER BY id ASC
		 LIMIT $4
		 FOR UPDATE SKIP LOCKED`,
		OutboxStatusPending, OutboxStatusProcessing, time.Now().Add(-lockTimeout), batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: select claimable events: %w", ErrOutboxStoreFailed, err)
	}

	var events []*OutboxEvent

	for rows.Next() {
		event := &OutboxEvent{}
		if err := rows.Scan(&event.ID, &event.EventID, &event.EventType, &event.Payload, &event.Meta,
			&event.Status, &event.Attempts, &event.LockedBy, &event.LockedAt, &event.CreatedAt, &event.ProcessedAt); err != nil {
			rows.Close()

			return nil, fmt.Errorf("%w: scan claimable event: %w", ErrOutboxStoreFailed, err)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		rows.Close()

		return nil, fmt.Errorf("%w: iterate claimable events: %w", ErrOutboxStoreFailed, err)
	}

	rows.Close()

	now := time.Now()

	for _, event := range events {
		if _, err := tx.ExecContext(ctx,
			`UPDATE outbox_events SET status = $1, locked_by = $2, locked_at = $3, attempts = attempts + 1
			 WHERE id = $4`,
			OutboxStatusProcessing, workerID, now, event.ID,
		); err != nil {
			return nil, fmt.Errorf("%w: claim event id=%d: %w", ErrOutboxStoreFailed, event.ID, err)
		}

		event.Status = OutboxStatusProcessing
		event.LockedBy = &workerID
		event.LockedAt = &now
		event.Attempts++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit claim transaction: %w", ErrOutboxStoreFailed, err)
	}

	if len(events) > 0 {
		s.logger.Debug("claimed outbox events",
			slog.String("worker_id", workerID),
			slog.Int("count", len(events)),
		)
	}

	return events, nil
}

// Dispatch applies apply — the registered business-effect handler together
// with its audit log write — to event inside a single transaction shared
// with the idempotency check, the processed-event ledger insert, and the
// DONE transition. A crash or error at any point before Commit leaves no
// trace at all: no audit row, no ledger entry, no DONE status, so a
// subsequent reclaim retries cleanly rather than risking a duplicate audit
// entry for the same event_id.
//
// If event_id is already present in the processed-event ledger (a
// redelivered copy of an event reclaimed after its original dispatch
// committed but before the claim transaction observed it), apply is never
// called - the event is simply marked DONE - and alreadyProcessed is true.
func (s *OutboxStore) Dispatch(ctx context.Context, event *OutboxEvent, apply func(tx *sql.Tx) error) (alreadyProcessed bool, err error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: begin transaction: %w", ErrOutboxStoreFailed, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)`, event.EventID,
	).Scan(&alreadyProcessed); err != nil {
		return false, fmt.Errorf("%w: check processed event id=%s: %w", ErrOutboxStoreFailed, event.EventID, err)
	}

	if !alreadyProcessed {
		if err := apply(tx); err != nil {
			return false, err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO processed_events (event_id) VALUES ($1) ON CONFLICT (event_id) DO NOTHING`,
			event.EventID,
		); err != nil {
			return false, fmt.Errorf("%w: record processed event id=%s: %w", ErrOutboxStoreFailed, event.EventID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE outbox_events SET status = $1, locked_by = NULL, locked_at = NULL, processed_at = now()
		 WHERE id = $2`,
		OutboxStatusDone, event.ID,
	); err != nil {
		return false, fmt.Errorf("%w: mark event done id=%d: %w", ErrOutboxStoreFailed, event.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit dispatch transaction: %w", ErrOutboxStoreFailed, err)
	}

	return alreadyProcessed, nil
}

// MarkFailedOrRequeue records a dispatch failure. If the event's cumulative
// attempt count has reached maxAttempts it is marked FAILED (a poison event
// requiring operator attention); otherwise it is returned to PENDING for
// immediate reclaim by any worker on its next poll. The attempt counter
// itself is never reset - it already reflects this attempt, recorded at
// claim time.
func (s *OutboxStore) MarkFailedOrRequeue(ctx context.Context, event *OutboxEvent, maxAttempts int) error {
	status := OutboxStatusPending
	if event.Attempts >= maxAttempts {
		status = OutboxStatusFailed
	}

	_, err := s.conn.ExecContext(ctx,
		`UPDATE outbox_events SET status = $1, locked_by = NULL, locked_at = NULL WHERE id = $2`,
		status, event.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: requeue/fail event id=%d: %w", ErrOutboxStoreFailed, event.ID, err)
	}

	if status == OutboxStatusFailed {
		s.logger.Error("outbox event exhausted retries, marking FAILED",
			slog.Int64("event_id_pk", event.ID),
			slog.String("event_id", event.EventID),
			slog.String("event_type", event.EventType),
			slog.Int("attempts", event.Attempts),
		)
	}

	return nil
}

// Get retrieves a single outbox event by its business event_id, primarily
// for tests and operator tooling.
func (s *OutboxStore) Get(ctx context.Context, eventID string) (*OutboxEvent, error) {
	event := &OutboxEvent{}

	err := s.conn.QueryRowContext(ctx,
		`SELECT id, event_id, event_type, payload, meta, status, attempts, locked_by, locked_at, created_at, processed_at
		 FROM outbox_events WHERE event_id = $1`, eventID,
	).Scan(&event.ID, &event.EventID, &event.EventType, &event.Payload, &event.Meta,
		&event.Status, &event.Attempts, &event.LockedBy, &event.LockedAt, &event.CreatedAt, &event.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: event_id=%s", ErrEventNotFound, eventID)
	} else if err != nil {
		return nil, fmt.Errorf("%w: query event: %w", ErrOutboxStoreFailed, err)
	}

	return event, nil
}

// BacklogStats reports the unprocessed-event backlog gauges: the count of
// rows in {PENDING, PROCESSING}, and the age in seconds of the oldest such
// row (0 if the backlog is empty).
func (s *OutboxStore) BacklogStats(ctx context.Context) (count int, oldestAgeSeconds float64, err error) {
	var oldestCreatedAt sql.NullTime

	err = s.conn.QueryRowContext(ctx,
		`SELECT count(*), min(created_at) FROM outbox_events WHERE status IN ($1, $2)`,
		OutboxStatusPending, OutboxStatusProcessing,
	).Scan(&count, &oldestCreatedAt)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: backlog stats: %w", ErrOutboxStoreFailed, err)
	}

	if oldestCreatedAt.Valid {
		oldestAgeSeconds = time.Since(oldestCreatedAt.Time).Seconds()
	}

	return count, oldestAgeSeconds, nil
}
