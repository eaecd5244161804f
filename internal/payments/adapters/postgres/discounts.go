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

// DiscountReservations keeps coupon reservations keyed by (code, order).
type DiscountReservations struct {
	pool *pgxpool.Pool
}

func NewDiscountReservations(pool *pgxpool.Pool) *DiscountReservations {
	return &DiscountReservations{pool: pool}
}

// Create inserts a reservation as checkout would create it.
func (s *DiscountReservations) Create(ctx context.Context, r domain.DiscountReservation) error {
	query := `
		INSERT INTO discount_reservations (code, order_id, user_id, status, amount_minor)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := s.pool.Exec(ctx, query, r.Code, r.OrderID, r.UserID, r.Status, r.AmountMinor); err != nil {
		return fmt.Errorf("insert discount reservation: %w", err)
	}
	return nil
}

func (s *DiscountReservations) Get(ctx context.Context, code, orderID string) (*domain.DiscountReservation, error) {
	query := `
		SELECT code, order_id, user_id, status, amount_minor, consumed_at
		FROM discount_reservations
		WHERE code = $1 AND order_id = $2
	`

	var r domain.DiscountReservation
	err := s.pool.QueryRow(ctx, query, code, orderID).Scan(
		&r.Code,
		&r.OrderID,
		&r.UserID,
		&r.Status,
		&r.AmountMinor,
		&r.ConsumedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select discount reservation: %w", err)
	}
	return &r, nil
}

// Consume flips the reservation and records the usage in one transaction.
func (s *DiscountReservations) Consume(ctx context.Context, code, orderID, userID string, amountMinor int64, at time.Time) (bool, error) {
	applied := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		flip := `
			UPDATE discount_reservations
			SET status = $3, user_id = $4, amount_minor = $5, consumed_at = $6
			WHERE code = $1 AND order_id = $2 AND status = $7
		`
		tag, err := tx.Exec(ctx, flip, code, orderID, domain.DiscountConsumed, userID, amountMinor, at, domain.DiscountReserved)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		usage := `
			INSERT INTO coupon_usages (code, order_id, user_id, amount_minor, used_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (code, order_id) DO NOTHING
		`
		if _, err := tx.Exec(ctx, usage, code, orderID, userID, amountMinor, at); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("consume discount: %w", err)
	}
	return applied, nil
}

func (s *DiscountReservations) Release(ctx context.Context, code, orderID string) (bool, error) {
	query := `
		UPDATE discount_reservations
		SET status = $3
		WHERE code = $1 AND order_id = $2 AND status = $4
	`

	tag, err := s.pool.Exec(ctx, query, code, orderID, domain.DiscountReleased, domain.DiscountReserved)
	if err != nil {
		return false, fmt.Errorf("release discount: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Usages counts recorded consumptions of a code.
func (s *DiscountReservations) Usages(ctx context.Context, code string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM coupon_usages WHERE code = $1`, code).Scan(&n); err != nil {
		return 0, fmt.Errorf("count coupon usages: %w", err)
	}
	return n, nil
}
