package ports

import (
	"context"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
)

// EventBus defines the contract for publishing order payment lifecycle events.
type EventBus interface {
	PublishOrderConfirmed(ctx context.Context, orderID string) error
	PublishOrderCancelled(ctx context.Context, orderID string) error
	PublishRefundUpdated(ctx context.Context, orderID string, status domain.RefundStatus, reason string) error
}
