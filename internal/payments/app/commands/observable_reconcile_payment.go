package commands

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/metrics"
	"github.com/mahmoodamara/barber-bang-sub001/internal/telemetry"
)

type ObservableReconcileHandler struct {
	handler ReconcileHandler
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewObservableReconcileHandler(handler ReconcileHandler, logger *slog.Logger, metrics *metrics.Metrics) *ObservableReconcileHandler {
	return &ObservableReconcileHandler{
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

func (o *ObservableReconcileHandler) Handle(ctx context.Context, cmd ReconcilePaymentCommand) (*ReconcileResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "ReconcilePaymentCommand.Handle")

	start := time.Now()
	eventType := "unknown"
	outcome := "error"
	defer func() {
		o.metrics.RecordReconciliationDuration(ctx, time.Since(start).Seconds())
		o.metrics.RecordNotification(ctx, eventType, outcome)
	}()

	result, err := o.handler.Handle(ctx, cmd)

	if err != nil {
		if errors.Is(err, domain.ErrSignatureInvalid) || errors.Is(err, domain.ErrMalformedNotification) {
			outcome = "rejected"
			o.logger.WarnContext(ctx, "payment notification rejected", "error", err)
		} else {
			o.logger.ErrorContext(ctx, "payment notification reconciliation failed", "error", err)
		}
		telemetry.EndSpan(span, err)
		return nil, err
	}

	eventType = result.EventType
	outcome = string(result.Outcome)

	telemetry.AddSpanAttributes(span,
		attribute.String("payment.event_id", result.EventID),
		attribute.String("payment.event_type", result.EventType),
		attribute.String("payment.outcome", outcome),
		attribute.String("order.id", result.OrderID),
	)

	attrs := []any{
		"event_id", result.EventID,
		"event_type", result.EventType,
		"order_id", result.OrderID,
		"outcome", outcome,
	}
	if result.Reason != "" {
		attrs = append(attrs, "reason", result.Reason)
	}
	switch result.Outcome {
	case OutcomeCompensated, OutcomeLockConflict, OutcomeOrderNotFound:
		telemetry.AddSpanEvent(span, "payment.attention", attribute.String("payment.reason", result.Reason))
		o.logger.WarnContext(ctx, "payment notification reconciled", attrs...)
	default:
		o.logger.InfoContext(ctx, "payment notification reconciled", attrs...)
	}

	telemetry.EndSpan(span, nil)
	return result, nil
}
