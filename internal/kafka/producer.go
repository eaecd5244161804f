// Package kafka publishes order payment lifecycle events.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
)

const (
	TopicOrderConfirmed     = "order.confirmed"
	TopicOrderCancelled     = "order.cancelled"
	TopicOrderRefundPending = "order.refund_pending"
	TopicOrderRefunded      = "order.refunded"
	TopicOrderRefundFailed  = "order.refund_failed"
)

// RefundTopic maps a refund status to its lifecycle topic.
func RefundTopic(status domain.RefundStatus) string {
	switch status {
	case domain.RefundSucceeded:
		return TopicOrderRefunded
	case domain.RefundFailed:
		return TopicOrderRefundFailed
	default:
		return TopicOrderRefundPending
	}
}

// Event is the JSON value written for every lifecycle message; the key is the order id.
type Event struct {
	Type         string              `json:"type"`
	OrderID      string              `json:"order_id"`
	RefundStatus domain.RefundStatus `json:"refund_status,omitempty"`
	Reason       string              `json:"reason,omitempty"`
	OccurredAt   time.Time           `json:"occurred_at"`
}

// NewSyncProducer builds a producer that waits for all in-sync replicas.
func NewSyncProducer(brokers []string, clientID string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Version = sarama.V2_6_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3
	cfg.Net.DialTimeout = 5 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

// EventBus implements ports.EventBus on a sarama producer.
type EventBus struct {
	producer sarama.SyncProducer
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewEventBus(producer sarama.SyncProducer, metrics *Metrics, logger *slog.Logger) *EventBus {
	return &EventBus{
		producer: producer,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (b *EventBus) PublishOrderConfirmed(ctx context.Context, orderID string) error {
	return b.publish(ctx, TopicOrderConfirmed, Event{OrderID: orderID})
}

func (b *EventBus) PublishOrderCancelled(ctx context.Context, orderID string) error {
	return b.publish(ctx, TopicOrderCancelled, Event{OrderID: orderID})
}

func (b *EventBus) PublishRefundUpdated(ctx context.Context, orderID string, status domain.RefundStatus, reason string) error {
	return b.publish(ctx, RefundTopic(status), Event{OrderID: orderID, RefundStatus: status, Reason: reason})
}

// Close flushes and closes the producer.
func (b *EventBus) Close() error {
	return b.producer.Close()
}

func (b *EventBus) publish(ctx context.Context, topic string, evt Event) error {
	evt.Type = topic
	evt.OccurredAt = b.now()
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	start := time.Now()
	partition, offset, err := b.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(evt.OrderID),
		Value: sarama.ByteEncoder(value),
	})
	if b.metrics != nil {
		b.metrics.RecordPublish(ctx, topic, time.Since(start).Seconds(), err == nil)
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	b.logger.DebugContext(ctx, "event published",
		"topic", topic,
		"order_id", evt.OrderID,
		"partition", partition,
		"offset", offset,
	)
	return nil
}
