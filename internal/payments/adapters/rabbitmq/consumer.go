package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/effects"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/metrics"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

// ErrDeliveriesClosed is returned when the broker closes the delivery channel.
var ErrDeliveriesClosed = errors.New("amqp delivery channel closed")

// Consumer runs side effect tasks from the queue with the same retry policy as the in-process pool.
// A task that still fails after its retries is dead-lettered rather than requeued.
type Consumer struct {
	ch       *amqp.Channel
	runner   effects.TaskRunner
	policy   effects.RetryPolicy
	prefetch int
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewConsumer(ch *amqp.Channel, runner effects.TaskRunner, policy effects.RetryPolicy, prefetch int, logger *slog.Logger, m *metrics.Metrics) *Consumer {
	if prefetch <= 0 {
		prefetch = 10
	}
	if policy == (effects.RetryPolicy{}) {
		policy = effects.DefaultRetryPolicy
	}
	return &Consumer{
		ch:       ch,
		runner:   runner,
		policy:   policy,
		prefetch: prefetch,
		logger:   logger,
		metrics:  m,
	}
}

// Run consumes until ctx is cancelled or the broker closes the channel.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := c.ch.Consume(QueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return ErrDeliveriesClosed
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle processes one delivery and acks or dead-letters it.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	var task ports.ConfirmedOrderTask
	if err := json.Unmarshal(d.Body, &task); err != nil || task.OrderID == "" {
		c.logger.ErrorContext(ctx, "dropping malformed side effect task",
			"message_id", d.MessageId,
			"error", err,
		)
		_ = d.Nack(false, false)
		return
	}

	err := effects.Process(ctx, c.runner, task, c.policy, nil)
	if c.metrics != nil {
		c.metrics.RecordSideEffects(ctx, err == nil)
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "post-confirmation side effects failed",
			"order_id", task.OrderID,
			"event_id", task.EventID,
			"error", err,
		)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}
