package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/qhse-systems/qhse-outbox/internal/correlation"
)

// Sentinel errors for non-conformity storage operations.
var (
	// ErrNCStoreFailed wraps unexpected failures while persisting non-conformity state.
	ErrNCStoreFailed = errors.New("non-conformity storage failed")
	// ErrNCNotFound is returned when a non-conformity id does not exist.
	ErrNCNotFound = errors.New("non-conformity not found")
	// ErrNCAlreadyClosed is returned when closing a non-conformity that is already closed.
	ErrNCAlreadyClosed = errors.New("non-conformity already closed")
	// ErrInvalidSeverity is returned when a severity value is not one of the recognized levels.
	ErrInvalidSeverity = errors.New("invalid severity")
)

// NCStore implements non-conformity persistence and enqueues the outbox
// events that accompany non-conformity lifecycle transitions, all inside a
// single database transaction.
type NCStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewNCStore creates a PostgreSQL-backed NCStore.
func NewNCStore(conn *Connection, logger *slog.Logger) (*NCStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &NCStore{conn: conn, logger: logger}, nil
}

// ValidSeverity reports whether severity is one of the recognized levels.
func ValidSeverity(severity string) bool {
	switch severity {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	default:
		return false
	}
}

// Create inserts a new open non-conformity against supplierID and enqueues
// an NC_CREATED outbox event in the same transaction.
func (s *NCStore) Create(ctx context.Context, supplierID int64, severity, description string) (*NonConformity, error) {
	if !ValidSeverity(severity) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSeverity, severity)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %w", ErrNCStoreFailed, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	nc := &NonConformity{}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO nonconformities (supplier_id, severity, status, description)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, supplier_id, severity, status, description, created_at`,
		supplierID, severity, NCStatusOpen, description,
	).Scan(&nc.ID, &nc.SupplierID, &nc.Severity, &nc.Status, &nc.Description, &nc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: insert non-conformity: %w", ErrNCStoreFailed, err)
	}

	payload, err := json.Marshal(map[string]any{
		"nc_id":       nc.ID,
		"supplier_id": nc.SupplierID,
		"severity":    nc.Severity,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal event payload: %w", ErrNCStoreFailed, err)
	}

	if err := enqueueEvent(ctx, tx, EventTypeNCCreated, payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNCStoreFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit transaction: %w", ErrNCStoreFailed, err)
	}

	s.logger.Info("non-conformity created",
		slog.Int64("nc_id", nc.ID),
		slog.Int64("supplier_id", nc.SupplierID),
		slog.String("severity", nc.Severity),
		slog.String("correlation_id", correlation.RequestID(ctx)),
	)

	return nc, nil
}

// Close transitions an open non-conformity to closed and enqueues an
// NC_CLOSED outbox event in the same transaction. Closing an already-closed
// non-conformity is rejected rather than silently accepted, since closure is
// a one-way transition that should be auditable exactly once.
func (s *NCStore) Close(ctx context.Context, id int64) (*NonConformity, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %w", ErrNCStoreFailed, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	current := &NonConformity{}

	err = tx.QueryRowContext(ctx,
		`SELECT id, supplier_id, severity, status, description, created_at FROM nonconformities WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&current.ID, &current.SupplierID, &current.Severity, &current.Status, &current.Description, &current.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id=%d", ErrNCNotFound, id)
	} else if err != nil {
		return nil, fmt.Errorf("%w: query non-conformity: %w", ErrNCStoreFailed, err)
	}

	if current.Status == NCStatusClosed {
		return nil, fmt.Errorf("%w: id=%d", ErrNCAlreadyClosed, id)
	}

	nc := &NonConformity{}

	err = tx.QueryRowContext(ctx,
		`UPDATE nonconformities SET status = $2 WHERE id = $1
		 RETURNING id, supplier_id, severity, status, description, created_at`,
		id, NCStatusClosed,
	).Scan(&nc.ID, &nc.SupplierID, &nc.Severity, &nc.Status, &nc.Description, &nc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: close non-conformity: %w", ErrNCStoreFailed, err)
	}

	payload, err := json.Marshal(map[string]any{
		"nc_id":       nc.ID,
		"supplier_id": nc.SupplierID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal event payload: %w", ErrNCStoreFailed, err)
	}

	if err := enqueueEvent(ctx, tx, EventTypeNCClosed, payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNCStoreFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit transaction: %w", ErrNCStoreFailed, err)
	}

	s.logger.Info("non-conformity closed",
		slog.Int64("nc_id", nc.ID),
		slog.String("correlation_id", correlation.RequestID(ctx)),
	)

	return nc, nil
}

// Get retrieves a non-conformity by id.
func (s *NCStore) Get(ctx context.Context, id int64) (*NonConformity, error) {
	nc := &NonConformity{}

	err := s.conn.QueryRowContext(ctx,
		`SELECT id, supplier_id, severity, status, description, created_at FROM nonconformities WHERE id = $1`,
		id,
	).Scan(&nc.ID, &nc.SupplierID, &nc.Severity, &nc.Status, &nc.Description, &nc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id=%d", ErrNCNotFound, id)
	} else if err != nil {
		return nil, fmt.Errorf("%w: query non-conformity: %w", ErrNCStoreFailed, err)
	}

	return nc, nil
}

// List returns a page of non-conformities, ascending by id, optionally
// filtered by status and/or severity ("" = no filter on that dimension).
func (s *NCStore) List(ctx context.Context, status, severity string, limit, offset int) ([]*NonConformity, error) {
	query := `SELECT id, supplier_id, severity, status, description, created_at FROM nonconformities WHERE 1=1`
	args := []any{}

	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	if severity != "" {
		args = append(args, severity)
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}

	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list non-conformities: %w", ErrNCStoreFailed, err)
	}
	defer rows.Close()

	var ncs []*NonConformity

	for rows.Next() {
		nc := &NonConformity{}
		if err := rows.Scan(&nc.ID, &nc.SupplierID, &nc.Severity, &nc.Status, &nc.Description, &nc.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan non-conformity row: %w", ErrNCStoreFailed, err)
		}

		ncs = append(ncs, nc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate non-conformity rows: %w", ErrNCStoreFailed, err)
	}

	return ncs, nil
}

// CountsForSupplier returns the open and open-high (severity=high, status=OPEN)
// non-conformity counts for a single supplier, used to compute the supplier
// detail endpoint's is_at_risk flag.
func (s *NCStore) CountsForSupplier(ctx context.Context, supplierID int64) (open, openHigh int, err error) {
	err = s.conn.QueryRowContext(ctx,
		`SELECT count(*) FILTER (WHERE status = $1),
		        count(*) FILTER (WHERE status = $1 AND severity = $2)
		 FROM nonconformities WHERE supplier_id = $3`,
		NCStatusOpen, SeverityHigh, supplierID,
	).Scan(&open, &openHigh)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: supplier nc counts: %w", ErrNCStoreFailed, err)
	}

	return open, openHigh, nil
}
