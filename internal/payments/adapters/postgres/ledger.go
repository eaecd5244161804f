package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
)

// PaymentLedger is the append-only audit table keyed by provider transaction id.
type PaymentLedger struct {
	pool *pgxpool.Pool
}

func NewPaymentLedger(pool *pgxpool.Pool) *PaymentLedger {
	return &PaymentLedger{pool: pool}
}

func (l *PaymentLedger) Append(ctx context.Context, entry domain.PaymentLedgerEntry) (bool, error) {
	query := `
		INSERT INTO payment_ledger (transaction_id, order_id, type, amount_minor, currency, event_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (transaction_id) DO NOTHING
	`

	tag, err := l.pool.Exec(ctx, query,
		entry.TransactionID,
		entry.OrderID,
		entry.Type,
		entry.AmountMinor,
		entry.Currency,
		entry.EventID,
		entry.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("append ledger entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (l *PaymentLedger) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentLedgerEntry, error) {
	query := `
		SELECT transaction_id, order_id, type, amount_minor, currency, event_id, created_at
		FROM payment_ledger
		WHERE order_id = $1
		ORDER BY created_at, transaction_id
	`

	rows, err := l.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var result []domain.PaymentLedgerEntry
	for rows.Next() {
		var e domain.PaymentLedgerEntry
		if err := rows.Scan(&e.TransactionID, &e.OrderID, &e.Type, &e.AmountMinor, &e.Currency, &e.EventID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return result, nil
}
