// Package reservations turns checkout holds on stock and coupons into permanent effects.
package reservations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

// StockConfirmer confirms an order's stock holds all-or-nothing.
type StockConfirmer struct {
	store  ports.StockReservationStore
	logger *slog.Logger
}

// NewStockConfirmer constructs a StockConfirmer.
func NewStockConfirmer(store ports.StockReservationStore, logger *slog.Logger) *StockConfirmer {
	return &StockConfirmer{store: store, logger: logger}
}

// Confirm flips every held reservation of the order to confirmed. Reservations already confirmed are
// a no-op, so a redelivery after a partial success terminates cleanly. If any reservation is missing,
// released or expired, nothing stays confirmed by this call and ErrReservationMissing is returned.
// Any other store error puts this call's confirmations back to held so a redelivery can retry them.
func (c *StockConfirmer) Confirm(ctx context.Context, orderID string, now time.Time) ([]domain.StockReservation, error) {
	reservations, err := c.store.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list stock reservations: %w", err)
	}
	if len(reservations) == 0 {
		return nil, fmt.Errorf("%w: order %s has no reservations", domain.ErrReservationMissing, orderID)
	}

	var pending []domain.StockReservation
	for _, r := range reservations {
		switch {
		case r.Status == domain.ReservationConfirmed:
		case r.Confirmable(now):
			pending = append(pending, r)
		default:
			return nil, fmt.Errorf("%w: reservation %s is %s (expires %s)",
				domain.ErrReservationMissing, r.ID, r.Status, r.ExpiresAt.Format(time.RFC3339))
		}
	}

	var confirmed []domain.StockReservation
	for _, r := range pending {
		ok, err := c.store.ConfirmHold(ctx, r.ID, now)
		if err == nil && !ok {
			err = fmt.Errorf("%w: reservation %s changed before confirmation", domain.ErrReservationMissing, r.ID)
		}
		if err != nil {
			missing := errors.Is(err, domain.ErrReservationMissing)
			c.rollback(ctx, orderID, confirmed, missing)
			if missing {
				return nil, err
			}
			return nil, fmt.Errorf("confirm reservation %s: %w", r.ID, err)
		}
		r.Status = domain.ReservationConfirmed
		confirmed = append(confirmed, r)
	}

	for i := range reservations {
		reservations[i].Status = domain.ReservationConfirmed
	}
	return reservations, nil
}

// Release flips the order's held reservations to released and reports how many changed.
func (c *StockConfirmer) Release(ctx context.Context, orderID string) (int, error) {
	reservations, err := c.store.ListByOrder(ctx, orderID)
	if err != nil {
		return 0, fmt.Errorf("list stock reservations: %w", err)
	}

	released := 0
	var errs []error
	for _, r := range reservations {
		if r.Status != domain.ReservationHeld {
			continue
		}
		ok, err := c.store.ReleaseHold(ctx, r.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("release reservation %s: %w", r.ID, err))
			continue
		}
		if ok {
			released++
		}
	}
	return released, errors.Join(errs...)
}

// Revert undoes confirmed reservations and restores stock. Used only when compensating a capture.
func (c *StockConfirmer) Revert(ctx context.Context, orderID string) (int, error) {
	reservations, err := c.store.ListByOrder(ctx, orderID)
	if err != nil {
		return 0, fmt.Errorf("list stock reservations: %w", err)
	}

	reverted := 0
	var errs []error
	for _, r := range reservations {
		if r.Status != domain.ReservationConfirmed {
			continue
		}
		ok, err := c.store.RevertConfirmed(ctx, r.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("revert reservation %s: %w", r.ID, err))
			continue
		}
		if ok {
			reverted++
		}
	}
	return reverted, errors.Join(errs...)
}

// rollback undoes this call's confirmations. A missing hold ends the order's stock claim, so the
// confirmed ones are released; otherwise they go back to held.
func (c *StockConfirmer) rollback(ctx context.Context, orderID string, confirmed []domain.StockReservation, release bool) {
	ctx = context.WithoutCancel(ctx)
	for _, r := range confirmed {
		undo := c.store.UnconfirmHold
		if release {
			undo = c.store.RevertConfirmed
		}
		if _, err := undo(ctx, r.ID); err != nil {
			c.logger.ErrorContext(ctx, "failed to roll back partial stock confirmation",
				"order_id", orderID,
				"reservation_id", r.ID,
				"error", err,
			)
		}
	}
}
