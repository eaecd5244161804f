package adapters

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mahmoodamara/barber-bang-sub001/internal/kafka"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

// ObservableEventBus traces lifecycle event publishing. Publish metrics stay with the Kafka bus.
type ObservableEventBus struct {
	bus ports.EventBus
}

func NewObservableEventBus(bus ports.EventBus) *ObservableEventBus {
	return &ObservableEventBus{bus: bus}
}

func eventAttrs(orderID, topic string, extra ...attribute.KeyValue) []attribute.KeyValue {
	return append([]attribute.KeyValue{
		attribute.String("order.id", orderID),
		attribute.String("event.type", topic),
		attribute.String("topic", topic),
	}, extra...)
}

func (e *ObservableEventBus) PublishOrderConfirmed(ctx context.Context, orderID string) error {
	_, err := observe(ctx, "EventBus.PublishOrderConfirmed", eventAttrs(orderID, kafka.TopicOrderConfirmed),
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.bus.PublishOrderConfirmed(ctx, orderID)
		})
	return err
}

func (e *ObservableEventBus) PublishOrderCancelled(ctx context.Context, orderID string) error {
	_, err := observe(ctx, "EventBus.PublishOrderCancelled", eventAttrs(orderID, kafka.TopicOrderCancelled),
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.bus.PublishOrderCancelled(ctx, orderID)
		})
	return err
}

func (e *ObservableEventBus) PublishRefundUpdated(ctx context.Context, orderID string, status domain.RefundStatus, reason string) error {
	attrs := eventAttrs(orderID, kafka.RefundTopic(status),
		attribute.String("refund.status", string(status)),
		attribute.String("refund.reason", reason),
	)
	_, err := observe(ctx, "EventBus.PublishRefundUpdated", attrs,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.bus.PublishRefundUpdated(ctx, orderID, status, reason)
		})
	return err
}
