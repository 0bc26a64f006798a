// Package outbox dispatches claimed outbox events to their business-effect
// handlers. Dispatch is the worker's half of the transactional outbox: the
// API enqueues events inside its own business transaction
// (internal/storage's enqueueEvent helper); this package applies the
// corresponding side effect and records it in the audit log, grounded on
// the source system's app/events/handlers.py one-handler-per-event-type
// design.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/qhse-systems/qhse-outbox/internal/storage"
)

// ErrUnknownEventType is returned when an outbox row's event_type has no
// registered handler, which points at a defect in either the enqueuing code
// or a stale deploy. The worker requeues it like any other dispatch failure
// until max attempts marks it FAILED, and flags it distinctly in its log.
var ErrUnknownEventType = errors.New("no handler registered for event type")

// Handler applies the business effect of a single dispatched event using tx,
// the same transaction OutboxStore.Dispatch uses for its idempotency check,
// processed-event ledger insert, and DONE transition - so the handler's
// audit write commits or rolls back atomically with all of it.
type Handler func(ctx context.Context, tx *sql.Tx, event *storage.OutboxEvent) error

// Dispatcher routes a claimed OutboxEvent to the handler registered for its
// event_type, recording an audit log entry as the handler's visible effect.
type Dispatcher struct {
	auditStore *storage.AuditStore
	handlers   map[string]Handler
}

// NewDispatcher creates a Dispatcher with the standard QHSE event handlers
// (NC_CREATED, NC_CLOSED, SUPPLIER_CERT_UPDATED) already registered, each of
// which writes a single audit log entry.
func NewDispatcher(auditStore *storage.AuditStore) *Dispatcher {
	d := &Dispatcher{
		auditStore: auditStore,
		handlers:   make(map[string]Handler),
	}

	d.Register(storage.EventTypeNCCreated, d.handleNCCreated)
	d.Register(storage.EventTypeNCClosed, d.handleNCClosed)
	d.Register(storage.EventTypeSupplierCertUpdated, d.handleSupplierCertUpdated)

	return d
}

// Register associates a handler with an event_type, overwriting any
// previous registration. Exposed so tests can substitute a handler without
// constructing a full Dispatcher.
func (d *Dispatcher) Register(eventType string, handler Handler) {
	d.handlers[eventType] = handler
}

// Dispatch applies the handler registered for event.EventType, within tx. It
// returns ErrUnknownEventType, wrapped, for an unregistered type; the caller
// (the worker loop) treats that the same as any other dispatch failure for
// retry/poison-event accounting, but can log it distinctly.
func (d *Dispatcher) Dispatch(ctx context.Context, tx *sql.Tx, event *storage.OutboxEvent) error {
	handler, ok := d.handlers[event.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, event.EventType)
	}

	return handler(ctx, tx, event)
}

func (d *Dispatcher) handleNCCreated(ctx context.Context, tx *sql.Tx, event *storage.OutboxEvent) error {
	var payload struct {
		NCID       int64 `json:"nc_id"`
		SupplierID int64 `json:"supplier_id"`
	}
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decode NC_CREATED payload: %w", err)
	}

	return d.record(ctx, tx, event, "NC_CREATED_HANDLED", "NonConformity", fmt.Sprintf("%d", payload.NCID))
}

func (d *Dispatcher) handleNCClosed(ctx context.Context, tx *sql.Tx, event *storage.OutboxEvent) error {
	var payload struct {
		NCID int64 `json:"nc_id"`
	}
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decode NC_CLOSED payload: %w", err)
	}

	return d.record(ctx, tx, event, "NC_CLOSED_HANDLED", "NonConformity", fmt.Sprintf("%d", payload.NCID))
}

func (d *Dispatcher) handleSupplierCertUpdated(ctx context.Context, tx *sql.Tx, event *storage.OutboxEvent) error {
	var payload struct {
		SupplierID int64 `json:"supplier_id"`
	}
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decode SUPPLIER_CERT_UPDATED payload: %w", err)
	}

	return d.record(ctx, tx, event, "SUPPLIER_CERT_UPDATED_HANDLED", "Supplier", fmt.Sprintf("%d", payload.SupplierID))
}

func (d *Dispatcher) record(ctx context.Context, tx *sql.Tx, event *storage.OutboxEvent, action, entityType, entityID string) error {
	if err := d.auditStore.Record(ctx, tx, "system", action, entityType, entityID, event.Meta); err != nil {
		return fmt.Errorf("record audit entry for event_id=%s: %w", event.EventID, err)
	}

	return nil
}
