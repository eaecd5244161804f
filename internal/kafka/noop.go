package kafka

import (
	"context"
	"log/slog"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
)

// NoopEventBus logs lifecycle events instead of producing them. Used when no brokers are configured.
type NoopEventBus struct {
	logger *slog.Logger
}

func NewNoopEventBus(logger *slog.Logger) *NoopEventBus {
	return &NoopEventBus{logger: logger}
}

func (n *NoopEventBus) PublishOrderConfirmed(ctx context.Context, orderID string) error {
	n.logger.DebugContext(ctx, "event::"+TopicOrderConfirmed, "order_id", orderID)
	return nil
}

func (n *NoopEventBus) PublishOrderCancelled(ctx context.Context, orderID string) error {
	n.logger.DebugContext(ctx, "event::"+TopicOrderCancelled, "order_id", orderID)
	return nil
}

func (n *NoopEventBus) PublishRefundUpdated(ctx context.Context, orderID string, status domain.RefundStatus, reason string) error {
	n.logger.DebugContext(ctx, "event::"+RefundTopic(status), "order_id", orderID, "reason", reason)
	return nil
}
