package storage

import (
	"encoding/json"
	"time"
)

// Supplier is a vendor qualified to supply material or services, tracked for
// certification compliance.
type Supplier struct {
	ID                  int64
	Name                string
	CertificationExpiry *time.Time
	CreatedAt           time.Time
}

// NonConformity severities, in ascending order of impact.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// NonConformity statuses.
const (
	NCStatusOpen   = "OPEN"
	NCStatusClosed = "CLOSED"
)

// NonConformity records a quality deviation raised against a supplier.
type NonConformity struct {
	ID          int64
	SupplierID  int64
	Severity    string
	Status      string
	Description string
	CreatedAt   time.Time
}

// Outbox event statuses.
const (
	OutboxStatusPending    = "PENDING"
	OutboxStatusProcessing = "PROCESSING"
	OutboxStatusDone       = "DONE"
	OutboxStatusFailed     = "FAILED"
)

// Outbox event types, corresponding to business transitions that also enqueue
// an outbox row.
const (
	EventTypeSupplierCertUpdated = "SUPPLIER_CERT_UPDATED"
	EventTypeNCCreated           = "NC_CREATED"
	EventTypeNCClosed            = "NC_CLOSED"
)

// OutboxEvent is a row in the transactional outbox: a business fact queued
// for asynchronous dispatch by the worker, written in the same database
// transaction as the business mutation that produced it.
type OutboxEvent struct {
	ID          int64
	EventID     string
	EventType   string
	Payload     json.RawMessage
	Meta        json.RawMessage
	Status      string
	Attempts    int
	LockedBy    *string
	LockedAt    *time.Time
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// ProcessedEvent is a ledger row recording that an event_id's side effects
// have already been applied, guarding dispatch against at-least-once
// redelivery turning into duplicate effects.
type ProcessedEvent struct {
	ID          int64
	EventID     string
	ProcessedAt time.Time
}

// AuditLogEntry is an immutable record of a state-changing action, written by
// the worker as the side effect of dispatching an outbox event.
type AuditLogEntry struct {
	ID         int64
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	Meta       json.RawMessage
	CreatedAt  time.Time
}

// KPISnapshot summarizes supplier-quality posture for the KPI endpoint.
type KPISnapshot struct {
	NCOpen           int `json:"nc_open"`
	NCOpenHigh       int `json:"nc_open_high"`
	NCClosed         int `json:"nc_closed"`
	OutboxPending    int `json:"outbox_pending"`
	OutboxFailed     int `json:"outbox_failed"`
	SuppliersAtRisk  int `json:"suppliers_at_risk"`
	AuditEventsTotal int `json:"audit_events_total"`
}
