package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
)

// InvoiceStore keeps one row per issuance key; the lease columns guard issuance.
type InvoiceStore struct {
	pool *pgxpool.Pool
}

func NewInvoiceStore(pool *pgxpool.Pool) *InvoiceStore {
	return &InvoiceStore{pool: pool}
}

func (s *InvoiceStore) GetByKey(ctx context.Context, key string) (*domain.Invoice, error) {
	query := `
		SELECT id, order_id, number, idempotency_key, amount_minor, currency, issued_at
		FROM invoices
		WHERE idempotency_key = $1 AND issued_at IS NOT NULL
	`

	var inv domain.Invoice
	err := s.pool.QueryRow(ctx, query, key).Scan(
		&inv.ID,
		&inv.OrderID,
		&inv.Number,
		&inv.IdempotencyKey,
		&inv.AmountMinor,
		&inv.Currency,
		&inv.IssuedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select invoice: %w", err)
	}
	return &inv, nil
}

// AcquireIssueLock creates the key row or takes over a stale lease on an unissued one.
func (s *InvoiceStore) AcquireIssueLock(ctx context.Context, key, orderID, leaseID string, now, staleBefore time.Time) (bool, error) {
	query := `
		INSERT INTO invoices (idempotency_key, order_id, lease_id, locked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET lease_id = EXCLUDED.lease_id, locked_at = EXCLUDED.locked_at
		WHERE invoices.issued_at IS NULL
		  AND (invoices.lease_id IS NULL OR invoices.locked_at < $5)
	`

	tag, err := s.pool.Exec(ctx, query, key, orderID, leaseID, now, staleBefore)
	if err != nil {
		return false, fmt.Errorf("acquire invoice lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *InvoiceStore) MarkIssued(ctx context.Context, inv domain.Invoice, leaseID string) (bool, error) {
	query := `
		UPDATE invoices
		SET id = $3, number = $4, amount_minor = $5, currency = $6, issued_at = $7,
		    lease_id = NULL, locked_at = NULL
		WHERE idempotency_key = $1 AND lease_id = $2 AND issued_at IS NULL
	`

	tag, err := s.pool.Exec(ctx, query,
		inv.IdempotencyKey,
		leaseID,
		inv.ID,
		inv.Number,
		inv.AmountMinor,
		inv.Currency,
		inv.IssuedAt,
	)
	if err != nil {
		return false, fmt.Errorf("mark invoice issued: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *InvoiceStore) ReleaseIssueLock(ctx context.Context, key, leaseID string) error {
	query := `UPDATE invoices SET lease_id = NULL, locked_at = NULL WHERE idempotency_key = $1 AND lease_id = $2`
	if _, err := s.pool.Exec(ctx, query, key, leaseID); err != nil {
		return fmt.Errorf("release invoice lock: %w", err)
	}
	return nil
}
