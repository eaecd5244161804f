package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus captures the lifecycle of an order once checkout has created it.
type OrderStatus string

const (
	StatusPendingPayment  OrderStatus = "pending_payment"
	StatusPaid            OrderStatus = "paid"
	StatusConfirmed       OrderStatus = "confirmed"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRefundPending   OrderStatus = "refund_pending"
	StatusRefunded        OrderStatus = "refunded"
	StatusReturnRequested OrderStatus = "return_requested"
)

// RefundStatus tracks the provider-side refund attached to an order.
type RefundStatus string

const (
	RefundNone      RefundStatus = ""
	RefundPending   RefundStatus = "pending"
	RefundSucceeded RefundStatus = "succeeded"
	RefundFailed    RefundStatus = "failed"
)

// Refund reasons recorded on compensated orders.
const (
	ReasonFraud            = "fraud"
	ReasonStockUnavailable = "stock_unavailable"
	ReasonDiscountInvalid  = "discount_invalid"
	ReasonOperator         = "operator"
)

// Order is the aggregate driven by payment reconciliation.
type Order struct {
	ID         string      `json:"id"`
	UserID     string      `json:"user_id"`
	Status     OrderStatus `json:"status"`
	Items      []LineItem  `json:"items"`
	Pricing    Pricing     `json:"pricing"`
	Discount   *Discount   `json:"discount,omitempty"`
	PaymentRef PaymentRef  `json:"payment_ref"`
	Refund     Refund      `json:"refund"`

	// WebhookLock is ephemeral and never part of business state.
	WebhookLock        *Lease     `json:"-"`
	WebhookProcessedAt *time.Time `json:"webhook_processed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LineItem is a purchased product/variant pair.
type LineItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

// Pricing keeps major and minor unit totals side by side.
type Pricing struct {
	Currency      string          `json:"currency"`
	SubtotalMinor int64           `json:"subtotal_minor"`
	ShippingMinor int64           `json:"shipping_minor"`
	DiscountMinor int64           `json:"discount_minor"`
	TotalMinor    int64           `json:"total_minor"`
	Total         decimal.Decimal `json:"total"`
}

// Discount references a coupon reserved at checkout.
type Discount struct {
	Code        string `json:"code"`
	AmountMinor int64  `json:"amount_minor"`
}

// PaymentRef is filled in as the provider surfaces identifiers.
type PaymentRef struct {
	SessionID       string `json:"session_id"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	ChargeID        string `json:"charge_id,omitempty"`
	ReceiptRef      string `json:"receipt_ref,omitempty"`
}

// ChargeRef returns the most specific provider reference available for refunds.
func (p PaymentRef) ChargeRef() string {
	if p.PaymentIntentID != "" {
		return p.PaymentIntentID
	}
	return p.ChargeID
}

// Refund describes the compensating refund, if any.
type Refund struct {
	Status           RefundStatus `json:"status,omitempty"`
	Reason           string       `json:"reason,omitempty"`
	AmountMinor      int64        `json:"amount_minor,omitempty"`
	ProviderRefundID string       `json:"provider_refund_id,omitempty"`
	IdempotencyKey   string       `json:"idempotency_key,omitempty"`
	FailureMessage   string       `json:"failure_message,omitempty"`
	Note             string       `json:"note,omitempty"`
	RefundedAt       *time.Time   `json:"refunded_at,omitempty"`
}

// Lease is an advisory lock stored on the record it protects.
type Lease struct {
	ID       string
	LockedAt time.Time
}

// Validate ensures the pricing representations agree.
func (p Pricing) Validate(minorDigits int32) error {
	if strings.TrimSpace(p.Currency) == "" {
		return errors.New("currency is required")
	}
	if p.TotalMinor < 0 {
		return errors.New("total must not be negative")
	}
	if p.SubtotalMinor+p.ShippingMinor-p.DiscountMinor != p.TotalMinor {
		return errors.New("total does not equal subtotal + shipping - discount")
	}
	if !p.Total.Shift(minorDigits).Equal(decimal.NewFromInt(p.TotalMinor)) {
		return errors.New("major and minor totals disagree")
	}
	return nil
}

// IsTerminal indicates whether reconciliation has nothing left to do.
func (o Order) IsTerminal() bool {
	switch o.Status {
	case StatusConfirmed, StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

// IsLockable reports whether a webhook may take the order lock in this status.
func (o Order) IsLockable() bool {
	return o.Status == StatusPendingPayment || o.Status == StatusPaid
}

// NeedsAttention reports a failed refund that operators have to resolve.
func (o Order) NeedsAttention() bool {
	return o.Status == StatusRefundPending && o.Refund.Status == RefundFailed
}
