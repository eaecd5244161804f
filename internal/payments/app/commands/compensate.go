package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/reservations"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/metrics"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

// RefundIdempotencyKey derives the provider idempotency key for the compensating refund of a charge.
func RefundIdempotencyKey(orderID, chargeRef string) string {
	return "refund:" + orderID + ":" + chargeRef
}

// CompensateRequest describes a reversal of a captured payment.
type CompensateRequest struct {
	OrderID     string
	ChargeRef   string
	Reason      string
	Note        string
	EventID     string
	AmountMinor int64
}

func (r CompensateRequest) Validate() error {
	if strings.TrimSpace(r.OrderID) == "" {
		return errors.New("order_id is required")
	}
	if strings.TrimSpace(r.Reason) == "" {
		return errors.New("reason is required")
	}
	if r.AmountMinor < 0 {
		return errors.New("amount must not be negative")
	}
	return nil
}

// CompensationResult reports where a compensation left the order.
type CompensationResult struct {
	Order        *domain.Order
	RefundIssued bool
	ShortCircuit bool
}

// Compensator releases reservations and refunds a captured payment.
// Provider failures are recorded on the order and never returned.
type Compensator struct {
	orders     ports.OrderRepository
	stock      *reservations.StockConfirmer
	discounts  *reservations.DiscountConsumer
	provider   ports.PaymentProvider
	ledger     ports.PaymentLedger
	events     ports.EventBus
	autoRefund bool
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewCompensator(
	orders ports.OrderRepository,
	stock *reservations.StockConfirmer,
	discounts *reservations.DiscountConsumer,
	provider ports.PaymentProvider,
	ledger ports.PaymentLedger,
	events ports.EventBus,
	autoRefund bool,
	logger *slog.Logger,
) *Compensator {
	return &Compensator{
		orders:     orders,
		stock:      stock,
		discounts:  discounts,
		provider:   provider,
		ledger:     ledger,
		events:     events,
		autoRefund: autoRefund,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics enables refund counters.
func (c *Compensator) WithMetrics(m *metrics.Metrics) *Compensator {
	c.metrics = m
	return c
}

// WithClock overrides the time source.
func (c *Compensator) WithClock(now func() time.Time) *Compensator {
	c.now = now
	return c
}

// Compensate runs the reversal path for an order whose payment may have been captured.
// A second call for the same (order, charge) pair short-circuits without touching the provider.
func (c *Compensator) Compensate(ctx context.Context, req CompensateRequest) (*CompensationResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	order, err := c.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load order for compensation: %w", err)
	}

	chargeRef := req.ChargeRef
	if chargeRef == "" {
		chargeRef = order.PaymentRef.ChargeRef()
	}
	key := RefundIdempotencyKey(order.ID, chargeRef)

	if order.Status == domain.StatusRefunded ||
		order.Refund.Status == domain.RefundSucceeded ||
		(order.Refund.IdempotencyKey == key && order.Refund.Status != domain.RefundNone) {
		return &CompensationResult{Order: order, ShortCircuit: true}, nil
	}
	if err := domain.ValidateTransition(order.Status, domain.StatusRefundPending); err != nil {
		return nil, err
	}

	c.releaseReservations(ctx, order)

	amount := req.AmountMinor
	if amount == 0 {
		amount = order.Pricing.TotalMinor
	}

	applied, err := c.orders.MarkRefundPending(ctx, order.ID, domain.Refund{
		Reason:         req.Reason,
		AmountMinor:    amount,
		IdempotencyKey: key,
		Note:           req.Note,
	})
	if err != nil {
		return nil, fmt.Errorf("mark refund pending: %w", err)
	}
	if !applied {
		current, err := c.orders.GetByID(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("reload order after refund mark miss: %w", err)
		}
		if current.Status == domain.StatusRefunded || current.Refund.IdempotencyKey == key {
			return &CompensationResult{Order: current, ShortCircuit: true}, nil
		}
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, domain.StatusRefundPending)
	}

	c.publishRefund(ctx, order.ID, domain.RefundPending, req.Reason)

	result := &CompensationResult{}
	switch {
	case chargeRef == "":
		c.fail(ctx, order.ID, req.Reason, "no charge reference available; manual refund required")
	case !c.autoRefund:
		c.fail(ctx, order.ID, req.Reason, "automatic refunds disabled; manual refund required")
	default:
		result.RefundIssued = c.issueRefund(ctx, refundAttempt{
			orderID:   order.ID,
			chargeRef: chargeRef,
			amount:    amount,
			currency:  order.Pricing.Currency,
			reason:    req.Reason,
			key:       key,
			eventID:   req.EventID,
		})
	}

	result.Order, err = c.orders.GetByID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("reload compensated order: %w", err)
	}
	return result, nil
}

// RetryRefund re-issues a failed refund on behalf of an operator. The provider replays a
// cached failure for a reused key, so the retry carries the operator's own key suffix.
func (c *Compensator) RetryRefund(ctx context.Context, orderID, operatorKey, note string) (*CompensationResult, error) {
	if strings.TrimSpace(operatorKey) == "" {
		return nil, errors.New("idempotency key is required")
	}

	order, err := c.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.NeedsAttention() {
		return nil, fmt.Errorf("%w: refund retry requires a failed refund, order is %s/%s",
			domain.ErrInvalidTransition, order.Status, order.Refund.Status)
	}

	chargeRef := order.PaymentRef.ChargeRef()
	if chargeRef == "" {
		return nil, fmt.Errorf("%w: order has no charge reference", domain.ErrRefundProvider)
	}

	applied, err := c.orders.MarkRefundPending(ctx, order.ID, domain.Refund{
		Reason:      order.Refund.Reason,
		AmountMinor: order.Refund.AmountMinor,
		Note:        note,
	})
	if err != nil {
		return nil, fmt.Errorf("mark refund pending: %w", err)
	}
	if !applied {
		return nil, fmt.Errorf("%w: order changed during refund retry", domain.ErrInvalidTransition)
	}

	issued := c.issueRefund(ctx, refundAttempt{
		orderID:   order.ID,
		chargeRef: chargeRef,
		amount:    order.Refund.AmountMinor,
		currency:  order.Pricing.Currency,
		reason:    order.Refund.Reason,
		key:       RefundIdempotencyKey(order.ID, chargeRef) + ":" + operatorKey,
	})

	updated, err := c.orders.GetByID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("reload order after refund retry: %w", err)
	}
	return &CompensationResult{Order: updated, RefundIssued: issued}, nil
}

type refundAttempt struct {
	orderID   string
	chargeRef string
	amount    int64
	currency  string
	reason    string
	key       string
	eventID   string
}

func (c *Compensator) issueRefund(ctx context.Context, a refundAttempt) bool {
	res, err := c.provider.CreateRefund(ctx, ports.RefundRequest{
		ChargeRef:      a.chargeRef,
		AmountMinor:    a.amount,
		Reason:         a.reason,
		IdempotencyKey: a.key,
		Metadata:       map[string]string{"orderId": a.orderID, "reason": a.reason},
	})
	if err == nil && res.Status == "failed" {
		err = fmt.Errorf("%w: provider reported refund %s as failed", domain.ErrRefundProvider, res.ID)
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "provider refund failed",
			"order_id", a.orderID,
			"charge_ref", a.chargeRef,
			"error", err,
		)
		c.fail(ctx, a.orderID, a.reason, err.Error())
		return false
	}

	at := c.now()
	store := context.WithoutCancel(ctx)
	if _, err := c.orders.CompleteRefund(store, a.orderID, res.ID, at); err != nil {
		c.logger.ErrorContext(ctx, "failed to record completed refund",
			"order_id", a.orderID,
			"provider_refund_id", res.ID,
			"error", err,
		)
	}
	if _, err := c.ledger.Append(store, domain.PaymentLedgerEntry{
		TransactionID: res.ID,
		OrderID:       a.orderID,
		Type:          domain.TransactionRefund,
		AmountMinor:   a.amount,
		Currency:      a.currency,
		EventID:       a.eventID,
		CreatedAt:     at,
	}); err != nil {
		c.logger.ErrorContext(ctx, "failed to append refund ledger entry",
			"order_id", a.orderID,
			"provider_refund_id", res.ID,
			"error", err,
		)
	}

	c.recordRefund(ctx, domain.RefundSucceeded)
	c.publishRefund(ctx, a.orderID, domain.RefundSucceeded, a.reason)
	c.logger.InfoContext(ctx, "refund issued",
		"order_id", a.orderID,
		"provider_refund_id", res.ID,
		"amount_minor", a.amount,
	)
	return true
}

func (c *Compensator) fail(ctx context.Context, orderID, reason, message string) {
	if _, err := c.orders.FailRefund(context.WithoutCancel(ctx), orderID, message); err != nil {
		c.logger.ErrorContext(ctx, "failed to record refund failure",
			"order_id", orderID,
			"error", err,
		)
	}
	c.recordRefund(ctx, domain.RefundFailed)
	c.publishRefund(ctx, orderID, domain.RefundFailed, reason)
}

func (c *Compensator) releaseReservations(ctx context.Context, order *domain.Order) {
	if order.Discount != nil && order.Discount.Code != "" {
		if _, err := c.discounts.Release(ctx, order.Discount.Code, order.ID); err != nil {
			c.logger.WarnContext(ctx, "failed to release discount reservation",
				"order_id", order.ID,
				"code", order.Discount.Code,
				"error", err,
			)
		}
	}
	if _, err := c.stock.Release(ctx, order.ID); err != nil {
		c.logger.WarnContext(ctx, "failed to release stock holds", "order_id", order.ID, "error", err)
	}
	if _, err := c.stock.Revert(ctx, order.ID); err != nil {
		c.logger.WarnContext(ctx, "failed to revert confirmed stock", "order_id", order.ID, "error", err)
	}
}

func (c *Compensator) recordRefund(ctx context.Context, status domain.RefundStatus) {
	if c.metrics != nil {
		c.metrics.RecordRefund(ctx, string(status))
	}
}

func (c *Compensator) publishRefund(ctx context.Context, orderID string, status domain.RefundStatus, reason string) {
	if err := c.events.PublishRefundUpdated(ctx, orderID, status, reason); err != nil {
		c.logger.WarnContext(ctx, "failed to publish refund event",
			"order_id", orderID,
			"refund_status", status,
			"error", err,
		)
	}
}
