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

// StockReservations flips hold status and adjusts available stock in one statement.
type StockReservations struct {
	pool *pgxpool.Pool
}

func NewStockReservations(pool *pgxpool.Pool) *StockReservations {
	return &StockReservations{pool: pool}
}

// Create inserts a hold as checkout would create it.
func (s *StockReservations) Create(ctx context.Context, r domain.StockReservation) error {
	query := `
		INSERT INTO stock_reservations (id, order_id, product_id, variant_id, quantity, expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query, r.ID, r.OrderID, r.ProductID, r.VariantID, r.Quantity, r.ExpiresAt, r.Status)
	if err != nil {
		return fmt.Errorf("insert stock reservation: %w", err)
	}
	return nil
}

// SetAvailable upserts available stock for a product/variant.
func (s *StockReservations) SetAvailable(ctx context.Context, productID, variantID string, qty int) error {
	query := `
		INSERT INTO stock (product_id, variant_id, available)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id, variant_id) DO UPDATE SET available = EXCLUDED.available
	`

	if _, err := s.pool.Exec(ctx, query, productID, variantID, qty); err != nil {
		return fmt.Errorf("set available stock: %w", err)
	}
	return nil
}

// Available returns available stock for a product/variant.
func (s *StockReservations) Available(ctx context.Context, productID, variantID string) (int, error) {
	var qty int
	query := `SELECT available FROM stock WHERE product_id = $1 AND variant_id = $2`
	if err := s.pool.QueryRow(ctx, query, productID, variantID).Scan(&qty); err != nil {
		return 0, fmt.Errorf("select available stock: %w", err)
	}
	return qty, nil
}

func (s *StockReservations) ListByOrder(ctx context.Context, orderID string) ([]domain.StockReservation, error) {
	query := `
		SELECT id, order_id, product_id, variant_id, quantity, expires_at, status
		FROM stock_reservations
		WHERE order_id = $1
		ORDER BY id
	`

	rows, err := s.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list stock reservations: %w", err)
	}
	defer rows.Close()

	var result []domain.StockReservation
	for rows.Next() {
		var r domain.StockReservation
		if err := rows.Scan(&r.ID, &r.OrderID, &r.ProductID, &r.VariantID, &r.Quantity, &r.ExpiresAt, &r.Status); err != nil {
			return nil, fmt.Errorf("scan stock reservation: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock reservations: %w", err)
	}
	return result, nil
}

// ConfirmHold flips the hold and decrements stock in one transaction.
func (s *StockReservations) ConfirmHold(ctx context.Context, reservationID string, now time.Time) (bool, error) {
	query := `
		UPDATE stock_reservations
		SET status = $2
		WHERE id = $1 AND status = $3 AND expires_at > $4
		RETURNING product_id, variant_id, quantity
	`

	applied, err := s.flip(ctx, -1, query, reservationID, domain.ReservationConfirmed, domain.ReservationHeld, now)
	if err != nil {
		return false, fmt.Errorf("confirm stock hold: %w", err)
	}
	return applied, nil
}

func (s *StockReservations) ReleaseHold(ctx context.Context, reservationID string) (bool, error) {
	query := `UPDATE stock_reservations SET status = $2 WHERE id = $1 AND status = $3`

	tag, err := s.pool.Exec(ctx, query, reservationID, domain.ReservationReleased, domain.ReservationHeld)
	if err != nil {
		return false, fmt.Errorf("release stock hold: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RevertConfirmed flips a confirmed hold to released and restores stock in one transaction.
func (s *StockReservations) RevertConfirmed(ctx context.Context, reservationID string) (bool, error) {
	query := `
		UPDATE stock_reservations
		SET status = $2
		WHERE id = $1 AND status = $3
		RETURNING product_id, variant_id, quantity
	`

	applied, err := s.flip(ctx, 1, query, reservationID, domain.ReservationReleased, domain.ReservationConfirmed)
	if err != nil {
		return false, fmt.Errorf("revert confirmed stock: %w", err)
	}
	return applied, nil
}

// UnconfirmHold puts a confirmed hold back to held and restores stock in one transaction.
func (s *StockReservations) UnconfirmHold(ctx context.Context, reservationID string) (bool, error) {
	query := `
		UPDATE stock_reservations
		SET status = $2
		WHERE id = $1 AND status = $3
		RETURNING product_id, variant_id, quantity
	`

	applied, err := s.flip(ctx, 1, query, reservationID, domain.ReservationHeld, domain.ReservationConfirmed)
	if err != nil {
		return false, fmt.Errorf("unconfirm stock hold: %w", err)
	}
	return applied, nil
}

// flip runs a guarded status update and, when it applied, moves available stock by sign*quantity.
func (s *StockReservations) flip(ctx context.Context, sign int, query string, args ...any) (bool, error) {
	applied := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var productID, variantID string
		var qty int
		if err := tx.QueryRow(ctx, query, args...).Scan(&productID, &variantID, &qty); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}

		stock := `
			INSERT INTO stock (product_id, variant_id, available)
			VALUES ($1, $2, $3)
			ON CONFLICT (product_id, variant_id) DO UPDATE SET available = stock.available + EXCLUDED.available
		`
		if _, err := tx.Exec(ctx, stock, productID, variantID, sign*qty); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}
