package reservations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

// DiscountConsumer turns a coupon reserved for an order into a consumed usage.
type DiscountConsumer struct {
	store  ports.DiscountReservationStore
	logger *slog.Logger
	now    func() time.Time
}

// NewDiscountConsumer constructs a DiscountConsumer.
func NewDiscountConsumer(store ports.DiscountReservationStore, logger *slog.Logger) *DiscountConsumer {
	return &DiscountConsumer{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Consume reports Success on the first consumption, AlreadyUsed on replay for the same order, and
// Err (wrapping ErrDiscountInvalid) when the reservation is missing, foreign or released.
// The returned error is reserved for store failures.
func (c *DiscountConsumer) Consume(ctx context.Context, code, orderID, userID string, amountMinor int64) (domain.ConsumeResult, error) {
	applied, err := c.store.Consume(ctx, code, orderID, userID, amountMinor, c.now())
	if err != nil {
		return domain.ConsumeResult{}, fmt.Errorf("consume discount %s: %w", code, err)
	}
	if applied {
		return domain.ConsumeResult{Success: true}, nil
	}

	reservation, err := c.store.Get(ctx, code, orderID)
	if err != nil {
		return domain.ConsumeResult{}, fmt.Errorf("inspect discount %s: %w", code, err)
	}

	switch {
	case reservation == nil:
		return domain.ConsumeResult{Err: fmt.Errorf("%w: %s is not reserved for order %s", domain.ErrDiscountInvalid, code, orderID)}, nil
	case reservation.Status == domain.DiscountConsumed:
		return domain.ConsumeResult{AlreadyUsed: true}, nil
	default:
		return domain.ConsumeResult{Err: fmt.Errorf("%w: %s is %s", domain.ErrDiscountInvalid, code, reservation.Status)}, nil
	}
}

// Release flips reserved -> released. A reservation in any other state is left untouched.
func (c *DiscountConsumer) Release(ctx context.Context, code, orderID string) (bool, error) {
	released, err := c.store.Release(ctx, code, orderID)
	if err != nil {
		return false, fmt.Errorf("release discount %s: %w", code, err)
	}
	return released, nil
}
