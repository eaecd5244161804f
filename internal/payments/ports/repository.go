package ports

import (
	"context"
	"time"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
)

// OrderRepository exposes the guarded writes reconciliation performs on orders.
// Every mutating method is a single conditional update and reports whether it applied.
type OrderRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetBySessionID(ctx context.Context, sessionID string) (*domain.Order, error)
	List(ctx context.Context, filter ListFilter) ([]domain.Order, error)

	AcquireWebhookLock(ctx context.Context, req LockRequest) (bool, error)
	ReleaseWebhookLock(ctx context.Context, orderID, leaseID string) (bool, error)

	RecordPaymentRef(ctx context.Context, orderID string, ref domain.PaymentRef) error
	Transition(ctx context.Context, t StatusTransition) (bool, error)
	MarkRefundPending(ctx context.Context, orderID string, refund domain.Refund) (bool, error)
	CompleteRefund(ctx context.Context, orderID, providerRefundID string, refundedAt time.Time) (bool, error)
	FailRefund(ctx context.Context, orderID, message string) (bool, error)
}

// LockRequest carries the conditions for acquiring the webhook lease.
type LockRequest struct {
	OrderID     string
	SessionRef  string
	LeaseID     string
	Now         time.Time
	StaleBefore time.Time
}

// StatusTransition is a compare-and-set on order status. LeaseID, when set, must match the held lock.
type StatusTransition struct {
	OrderID       string
	LeaseID       string
	From          domain.OrderStatus
	To            domain.OrderStatus
	MarkProcessed bool
	At            time.Time
}

// ListFilter narrows list queries by status and pagination.
type ListFilter struct {
	Status   *domain.OrderStatus
	Page     int
	PageSize int
}

// EventLedger records inbound provider notifications keyed by event id.
type EventLedger interface {
	RecordArrival(ctx context.Context, eventID, eventType, sessionRef string) (*domain.EventEntry, error)
	MarkProcessing(ctx context.Context, eventID, orderID string) error
	Finalize(ctx context.Context, eventID string, status domain.EventStatus, details domain.EventDetails) error
	Get(ctx context.Context, eventID string) (*domain.EventEntry, error)
}

// StockReservationStore mutates stock holds via per-row compare-and-set on status.
type StockReservationStore interface {
	ListByOrder(ctx context.Context, orderID string) ([]domain.StockReservation, error)
	// ConfirmHold flips held -> confirmed while unexpired and decrements available stock.
	ConfirmHold(ctx context.Context, reservationID string, now time.Time) (bool, error)
	// ReleaseHold flips held -> released.
	ReleaseHold(ctx context.Context, reservationID string) (bool, error)
	// RevertConfirmed flips confirmed -> released and restores available stock.
	RevertConfirmed(ctx context.Context, reservationID string) (bool, error)
	// UnconfirmHold flips confirmed -> held and restores available stock.
	UnconfirmHold(ctx context.Context, reservationID string) (bool, error)
}

// DiscountReservationStore mutates coupon reservations scoped to one order.
type DiscountReservationStore interface {
	Get(ctx context.Context, code, orderID string) (*domain.DiscountReservation, error)
	// Consume flips reserved -> consumed for this exact order and records the usage.
	Consume(ctx context.Context, code, orderID, userID string, amountMinor int64, at time.Time) (bool, error)
	Release(ctx context.Context, code, orderID string) (bool, error)
}

// PaymentLedger is the append-only audit trail of provider transactions.
type PaymentLedger interface {
	// Append is idempotent on transaction id; a duplicate reports false without error.
	Append(ctx context.Context, entry domain.PaymentLedgerEntry) (bool, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentLedgerEntry, error)
}

// InvoiceStore persists invoices under their own short-lived issuance lock.
type InvoiceStore interface {
	GetByKey(ctx context.Context, idempotencyKey string) (*domain.Invoice, error)
	AcquireIssueLock(ctx context.Context, idempotencyKey, orderID, leaseID string, now, staleBefore time.Time) (bool, error)
	MarkIssued(ctx context.Context, invoice domain.Invoice, leaseID string) (bool, error)
	ReleaseIssueLock(ctx context.Context, idempotencyKey, leaseID string) error
}
