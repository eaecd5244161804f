// Package rabbitmq carries confirmed-order side effect tasks over an AMQP broker.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

const (
	ExchangeName = "payments.side_effects"
	RoutingKey   = "order.confirmed"
	QueueName    = "order.confirmed.side_effects.q"
)

type channelPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher implements ports.SideEffectQueue.
type Publisher struct {
	ch channelPublisher
}

// DeclareTopology sets up the exchange, queue and binding once at startup.
func DeclareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(QueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, RoutingKey, ExchangeName, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	return nil
}

// NewPublisher declares the topology and enables publisher confirms.
func NewPublisher(ch *amqp.Channel) (*Publisher, error) {
	if err := DeclareTopology(ch); err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}
	return &Publisher{ch: ch}, nil
}

// Enqueue publishes the task as a persistent message keyed by order.
func (p *Publisher) Enqueue(ctx context.Context, task ports.ConfirmedOrderTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     task.EventID,
		CorrelationId: task.OrderID,
		Body:          body,
	}
	if err := p.ch.PublishWithContext(ctx, ExchangeName, RoutingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	return nil
}
