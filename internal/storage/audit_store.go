package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrAuditStoreFailed wraps unexpected failures while reading or writing audit log entries.
var ErrAuditStoreFailed = errors.New("audit log storage failed")

// AuditStore records and lists the audit trail: one entry per outbox event
// successfully dispatched, written by the worker (not the API) so the audit
// log only ever reflects effects that actually happened.
type AuditStore struct {
	conn *Connection
}

// NewAuditStore creates a PostgreSQL-backed AuditStore.
func NewAuditStore(conn *Connection) (*AuditStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &AuditStore{conn: conn}, nil
}

// Record inserts a single audit log entry within tx, so the write commits or
// rolls back together with whatever other effects (idempotency check,
// processed-event ledger insert, DONE transition) share the same
// transaction. meta typically carries the correlation id and traceparent
// propagated from the originating HTTP request through the outbox event's
// own meta.
func (s *AuditStore) Record(
	ctx context.Context, tx *sql.Tx, actor, action, entityType, entityID string, meta json.RawMessage,
) error {
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO audit_log (actor, action, entity_type, entity_id, meta)
		 VALUES ($1, $2, $3, $4, $5)`,
		actor, action, entityType, entityID, meta,
	)
	if err != nil {
		return fmt.Errorf("%w: insert audit entry: %w", ErrAuditStoreFailed, err)
	}

	return nil
}

// List returns the most recent audit log entries, newest first, bounded by limit.
func (s *AuditStore) List(ctx context.Context, limit int) ([]*AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, actor, action, entity_type, entity_id, meta, created_at
		 FROM audit_log ORDER BY id DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list audit entries: %w", ErrAuditStoreFailed, err)
	}
	defer rows.Close()

	var entries []*AuditLogEntry

	for rows.Next() {
		entry := &AuditLogEntry{}
		if err := rows.Scan(&entry.ID, &entry.Actor, &entry.Action, &entry.EntityType,
			&entry.EntityID, &entry.Meta, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan audit entry: %w", ErrAuditStoreFailed, err)
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate audit entries: %w", ErrAuditStoreFailed, err)
	}

	return entries, nil
}
