package ports

import (
	"context"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
)

// ConfirmedOrderTask asks the post-confirmation workers to run side effects for an order.
type ConfirmedOrderTask struct {
	OrderID   string `json:"order_id"`
	ChargeRef string `json:"charge_ref"`
	EventID   string `json:"event_id"`
	Attempt   int    `json:"attempt"`
}

// SideEffectQueue hands confirmed orders to background workers.
type SideEffectQueue interface {
	Enqueue(ctx context.Context, task ConfirmedOrderTask) error
}

// CartService removes purchased lines from a user's active cart.
type CartService interface {
	RemovePurchasedItems(ctx context.Context, userID string, items []domain.LineItem) error
}

// RankingService maintains sales counters, applied at most once per order.
type RankingService interface {
	RecordSale(ctx context.Context, orderID string, items []domain.LineItem) (bool, error)
}
