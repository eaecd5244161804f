package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	notificationsTotal     metric.Int64Counter
	reconciliationDuration metric.Float64Histogram
	refundsTotal           metric.Int64Counter
	sideEffectsTotal       metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.notificationsTotal, err = meter.Int64Counter(
		"payment_notifications_total",
		metric.WithDescription("Total number of payment provider notifications by type and outcome"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create payment_notifications_total counter: %w", err)
	}

	m.reconciliationDuration, err = meter.Float64Histogram(
		"payment_reconciliation_duration_seconds",
		metric.WithDescription("Duration of payment notification reconciliation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create payment_reconciliation_duration histogram: %w", err)
	}

	m.refundsTotal, err = meter.Int64Counter(
		"payment_refunds_total",
		metric.WithDescription("Total number of refund attempts by resulting status"),
		metric.WithUnit("{refund}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create payment_refunds_total counter: %w", err)
	}

	m.sideEffectsTotal, err = meter.Int64Counter(
		"payment_side_effects_total",
		metric.WithDescription("Total number of post-confirmation side effect runs"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create payment_side_effects_total counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) RecordNotification(ctx context.Context, eventType, outcome string) {
	m.notificationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordReconciliationDuration(ctx context.Context, durationSeconds float64) {
	m.reconciliationDuration.Record(ctx, durationSeconds)
}

func (m *Metrics) RecordRefund(ctx context.Context, status string) {
	m.refundsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordSideEffects(ctx context.Context, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.sideEffectsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}
