package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrKPIStoreFailed wraps unexpected failures while computing the KPI snapshot.
var ErrKPIStoreFailed = errors.New("KPI query failed")

// KPIStore computes supplier-quality KPIs directly from suppliers,
// nonconformities, outbox_events and audit_log; there is no materialized
// rollup table, so every read recomputes from source rows.
type KPIStore struct {
	conn *Connection
}

// NewKPIStore creates a PostgreSQL-backed KPIStore.
func NewKPIStore(conn *Connection) (*KPIStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &KPIStore{conn: conn}, nil
}

// Snapshot computes the current KPI snapshot: nc_open, nc_open_high,
// nc_closed, outbox_pending, outbox_failed, suppliers_at_risk,
// audit_events_total. A supplier counts as at risk if its certification has
// already expired, or it has at least one open high-severity NC.
func (s *KPIStore) Snapshot(ctx context.Context) (*KPISnapshot, error) {
	snapshot := &KPISnapshot{}

	err := s.conn.QueryRowContext(ctx,
		`SELECT count(*) FILTER (WHERE status = $1),
		        count(*) FILTER (WHERE status = $1 AND severity = $2),
		        count(*) FILTER (WHERE status = $3)
		 FROM nonconformities`,
		NCStatusOpen, SeverityHigh, NCStatusClosed,
	).Scan(&snapshot.NCOpen, &snapshot.NCOpenHigh, &snapshot.NCClosed)
	if err != nil {
		return nil, fmt.Errorf("%w: nonconformity counts: %w", ErrKPIStoreFailed, err)
	}

	err = s.conn.QueryRowContext(ctx,
		`SELECT count(*) FILTER (WHERE status = $1), count(*) FILTER (WHERE status = $2)
		 FROM outbox_events`,
		OutboxStatusPending, OutboxStatusFailed,
	).Scan(&snapshot.OutboxPending, &snapshot.OutboxFailed)
	if err != nil {
		return nil, fmt.Errorf("%w: outbox counts: %w", ErrKPIStoreFailed, err)
	}

	err = s.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM suppliers s
		 WHERE s.certification_expiry IS NOT NULL AND s.certification_expiry <= now()
		    OR EXISTS (
		        SELECT 1 FROM nonconformities nc
		        WHERE nc.supplier_id = s.id AND nc.status = $1 AND nc.severity = $2
		    )`,
		NCStatusOpen, SeverityHigh,
	).Scan(&snapshot.SuppliersAtRisk)
	if err != nil {
		return nil, fmt.Errorf("%w: suppliers at risk: %w", ErrKPIStoreFailed, err)
	}

	err = s.conn.QueryRowContext(ctx, `SELECT count(*) FROM audit_log`).Scan(&snapshot.AuditEventsTotal)
	if err != nil {
		return nil, fmt.Errorf("%w: audit event count: %w", ErrKPIStoreFailed, err)
	}

	return snapshot, nil
}
