package adapters

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
	"github.com/mahmoodamara/barber-bang-sub001/internal/telemetry"
)

// ObservableOrderRepository wraps every order read and guarded write in a span.
// Guarded writes that miss are recorded as span attributes, not errors.
type ObservableOrderRepository struct {
	repo ports.OrderRepository
}

func NewObservableOrderRepository(repo ports.OrderRepository) *ObservableOrderRepository {
	return &ObservableOrderRepository{repo: repo}
}

func observe[T any](ctx context.Context, name string, attrs []attribute.KeyValue, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := telemetry.StartSpan(ctx, name, attrs...)

	result, err := fn(ctx)
	if applied, ok := any(result).(bool); ok && err == nil {
		telemetry.AddSpanAttributes(span, attribute.Bool("write.applied", applied))
	}
	telemetry.EndSpan(span, err)
	return result, err
}

func orderAttrs(orderID, operation string, extra ...attribute.KeyValue) []attribute.KeyValue {
	return append([]attribute.KeyValue{
		attribute.String("order.id", orderID),
		attribute.String("operation", operation),
	}, extra...)
}

func (r *ObservableOrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return observe(ctx, "OrderRepository.GetByID", orderAttrs(id, "get_by_id"),
		func(ctx context.Context) (*domain.Order, error) { return r.repo.GetByID(ctx, id) })
}

func (r *ObservableOrderRepository) GetBySessionID(ctx context.Context, sessionID string) (*domain.Order, error) {
	attrs := []attribute.KeyValue{
		attribute.String("payment.session_id", sessionID),
		attribute.String("operation", "get_by_session_id"),
	}
	return observe(ctx, "OrderRepository.GetBySessionID", attrs,
		func(ctx context.Context) (*domain.Order, error) { return r.repo.GetBySessionID(ctx, sessionID) })
}

func (r *ObservableOrderRepository) List(ctx context.Context, filter ports.ListFilter) ([]domain.Order, error) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", "list"),
		attribute.Int("page", filter.Page),
		attribute.Int("page_size", filter.PageSize),
	}
	if filter.Status != nil {
		attrs = append(attrs, attribute.String("filter.status", string(*filter.Status)))
	}
	return observe(ctx, "OrderRepository.List", attrs,
		func(ctx context.Context) ([]domain.Order, error) { return r.repo.List(ctx, filter) })
}

func (r *ObservableOrderRepository) AcquireWebhookLock(ctx context.Context, req ports.LockRequest) (bool, error) {
	return observe(ctx, "OrderRepository.AcquireWebhookLock",
		orderAttrs(req.OrderID, "acquire_webhook_lock", attribute.String("lock.lease_id", req.LeaseID)),
		func(ctx context.Context) (bool, error) { return r.repo.AcquireWebhookLock(ctx, req) })
}

func (r *ObservableOrderRepository) ReleaseWebhookLock(ctx context.Context, orderID, leaseID string) (bool, error) {
	return observe(ctx, "OrderRepository.ReleaseWebhookLock",
		orderAttrs(orderID, "release_webhook_lock", attribute.String("lock.lease_id", leaseID)),
		func(ctx context.Context) (bool, error) { return r.repo.ReleaseWebhookLock(ctx, orderID, leaseID) })
}

func (r *ObservableOrderRepository) RecordPaymentRef(ctx context.Context, orderID string, ref domain.PaymentRef) error {
	_, err := observe(ctx, "OrderRepository.RecordPaymentRef", orderAttrs(orderID, "record_payment_ref"),
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, r.repo.RecordPaymentRef(ctx, orderID, ref)
		})
	return err
}

func (r *ObservableOrderRepository) Transition(ctx context.Context, t ports.StatusTransition) (bool, error) {
	return observe(ctx, "OrderRepository.Transition",
		orderAttrs(t.OrderID, "transition",
			attribute.String("order.from_status", string(t.From)),
			attribute.String("order.to_status", string(t.To)),
		),
		func(ctx context.Context) (bool, error) { return r.repo.Transition(ctx, t) })
}

func (r *ObservableOrderRepository) MarkRefundPending(ctx context.Context, orderID string, refund domain.Refund) (bool, error) {
	return observe(ctx, "OrderRepository.MarkRefundPending",
		orderAttrs(orderID, "mark_refund_pending", attribute.String("refund.reason", refund.Reason)),
		func(ctx context.Context) (bool, error) { return r.repo.MarkRefundPending(ctx, orderID, refund) })
}

func (r *ObservableOrderRepository) CompleteRefund(ctx context.Context, orderID, providerRefundID string, refundedAt time.Time) (bool, error) {
	return observe(ctx, "OrderRepository.CompleteRefund",
		orderAttrs(orderID, "complete_refund", attribute.String("refund.provider_id", providerRefundID)),
		func(ctx context.Context) (bool, error) {
			return r.repo.CompleteRefund(ctx, orderID, providerRefundID, refundedAt)
		})
}

func (r *ObservableOrderRepository) FailRefund(ctx context.Context, orderID, message string) (bool, error) {
	return observe(ctx, "OrderRepository.FailRefund", orderAttrs(orderID, "fail_refund"),
		func(ctx context.Context) (bool, error) { return r.repo.FailRefund(ctx, orderID, message) })
}
