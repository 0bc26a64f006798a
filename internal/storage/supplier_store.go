package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/qhse-systems/qhse-outbox/internal/correlation"
)

// Sentinel errors for supplier storage operations.
var (
	// ErrNoDatabaseConnection is returned when a store is constructed with a nil connection.
	ErrNoDatabaseConnection = errors.New("no database connection provided")
	// ErrSupplierStoreFailed wraps unexpected failures while persisting supplier state.
	ErrSupplierStoreFailed = errors.New("supplier storage failed")
	// ErrSupplierNotFound is returned when a supplier id does not exist.
	ErrSupplierNotFound = errors.New("supplier not found")
	// ErrSupplierNameTaken is returned when creating a supplier whose name already exists.
	ErrSupplierNameTaken = errors.New("supplier name already exists")
)

// postgresUniqueViolation is the SQLSTATE code Postgres returns for a unique
// constraint violation.
const postgresUniqueViolation = "23505"

// SupplierStore implements supplier persistence and enqueues the outbox
// events that accompany supplier state changes, all inside a single
// database transaction so a crash can never leave a mutation without its
// corresponding event.
type SupplierStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewSupplierStore creates a PostgreSQL-backed SupplierStore.
func NewSupplierStore(conn *Connection, logger *slog.Logger) (*SupplierStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &SupplierStore{conn: conn, logger: logger}, nil
}

// Create inserts a new supplier. Unlike UpdateCertification, it enqueues no
// outbox event: creation carries no audit-worthy side effect of its own.
func (s *SupplierStore) Create(ctx context.Context, name string, certExpiry *time.Time) (*Supplier, error) {
	supplier := &Supplier{}

	err := s.conn.QueryRowContext(ctx,
		`INSERT INTO suppliers (name, certification_expiry)
		 VALUES ($1, $2)
		 RETURNING id, name, certification_expiry, created_at`,
		name, certExpiry,
	).Scan(&supplier.ID, &supplier.Name, &supplier.CertificationExpiry, &supplier.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pq.ErrorCode(postgresUniqueViolation) {
			return nil, fmt.Errorf("%w: %s", ErrSupplierNameTaken, name)
		}

		return nil, fmt.Errorf("%w: insert supplier: %w", ErrSupplierStoreFailed, err)
	}

	s.logger.Info("supplier created",
		slog.Int64("supplier_id", supplier.ID),
		slog.String("name", supplier.Name),
		slog.String("correlation_id", correlation.RequestID(ctx)),
	)

	return supplier, nil
}

// UpdateCertification updates a supplier's certification expiry and enqueues
// a SUPPLIER_CERT_UPDATED outbox event in the same transaction. This event
// never mutates non-conformity state; it exists purely for audit traceability.
func (s *SupplierStore) UpdateCertification(ctx context.Context, id int64, certExpiry *time.Time) (*Supplier, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %w", ErrSupplierStoreFailed, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	supplier := &Supplier{}

	err = tx.QueryRowContext(ctx,
		`UPDATE suppliers SET certification_expiry = $2
		 WHERE id = $1
		 RETURNING id, name, certification_expiry, created_at`,
		id, certExpiry,
	).Scan(&supplier.ID, &supplier.Name, &supplier.CertificationExpiry, &supplier.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id=%d", ErrSupplierNotFound, id)
	} else if err != nil {
		return nil, fmt.Errorf("%w: update supplier: %w", ErrSupplierStoreFailed, err)
	}

	payload, err := json.Marshal(map[string]any{
		"supplier_id":          supplier.ID,
		"certification_expiry": supplier.CertificationExpiry,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal event payload: %w", ErrSupplierStoreFailed, err)
	}

	if err := enqueueEvent(ctx, tx, EventTypeSupplierCertUpdated, payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSupplierStoreFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit transaction: %w", ErrSupplierStoreFailed, err)
	}

	s.logger.Info("supplier certification updated",
		slog.Int64("supplier_id", supplier.ID),
		slog.String("correlation_id", correlation.RequestID(ctx)),
	)

	return supplier, nil
}

// Get retrieves a supplier by id.
func (s *SupplierStore) Get(ctx context.Context, id int64) (*Supplier, error) {
	supplier := &Supplier{}

	err := s.conn.QueryRowContext(ctx,
		`SELECT id, name, certification_expiry, created_at FROM suppliers WHERE id = $1`,
		id,
	).Scan(&supplier.ID, &supplier.Name, &supplier.CertificationExpiry, &supplier.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id=%d", ErrSupplierNotFound, id)
	} else if err != nil {
		return nil, fmt.Errorf("%w: query supplier: %w", ErrSupplierStoreFailed, err)
	}

	return supplier, nil
}

// List returns a page of suppliers ordered by id ascending.
func (s *SupplierStore) List(ctx context.Context, limit, offset int) ([]*Supplier, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, name, certification_expiry, created_at FROM suppliers ORDER BY id ASC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list suppliers: %w", ErrSupplierStoreFailed, err)
	}
	defer rows.Close()

	var suppliers []*Supplier

	for rows.Next() {
		supplier := &Supplier{}
		if err := rows.Scan(&supplier.ID, &supplier.Name, &supplier.CertificationExpiry, &supplier.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan supplier row: %w", ErrSupplierStoreFailed, err)
		}

		suppliers = append(suppliers, supplier)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate supplier rows: %w", ErrSupplierStoreFailed, err)
	}

	return suppliers, nil
}
