package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/integrity"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/orderlock"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/reservations"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
	"github.com/mahmoodamara/barber-bang-sub001/internal/telemetry"
)

// ReconcilePaymentCommand carries a raw provider notification and its signature header.
type ReconcilePaymentCommand struct {
	Payload   []byte
	Signature string
}

// Outcome is the business result of one notification delivery.
type Outcome string

const (
	OutcomeProcessed       Outcome = "processed"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeIgnored         Outcome = "ignored"
	OutcomeCompensated     Outcome = "compensated"
	OutcomeCancelled       Outcome = "cancelled"
	OutcomeAwaitingPayment Outcome = "awaiting_payment"
	OutcomeOrderNotFound   Outcome = "order_not_found"
	OutcomeLockConflict    Outcome = "lock_conflict"
)

// ReconcileResult describes what a delivery did.
type ReconcileResult struct {
	Outcome   Outcome
	EventID   string
	EventType string
	OrderID   string
	Reason    string
}

// Failure steps recorded on the event ledger.
const (
	StepResolveOrder   = "resolve_order"
	StepAcquireLock    = "acquire_lock"
	StepMarkProcessing = "mark_processing"
	StepLoadOrder      = "load_order"
	StepPaymentRef     = "record_payment_ref"
	StepConfirmStock   = "confirm_stock"
	StepMarkPaid       = "mark_paid"
	StepPaymentLedger  = "payment_ledger"
	StepConsume        = "consume_discount"
	StepMarkConfirmed  = "mark_confirmed"
	StepCancel         = "cancel_order"
	StepCompensate     = "compensate"
)

// StepError ties a reconciliation failure to the step that produced it.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }
func (e *StepError) Unwrap() error { return e.Err }

func failAt(step string, err error) error {
	return &StepError{Step: step, Err: err}
}

type ReconcileHandler interface {
	Handle(ctx context.Context, cmd ReconcilePaymentCommand) (*ReconcileResult, error)
}

// ReconcileDeps groups the collaborators of the reconcile handler.
type ReconcileDeps struct {
	Verifier    *integrity.Verifier
	EventLedger ports.EventLedger
	Orders      ports.OrderRepository
	Locker      *orderlock.Locker
	Stock       *reservations.StockConfirmer
	Discounts   *reservations.DiscountConsumer
	Ledger      ports.PaymentLedger
	Provider    ports.PaymentProvider
	Compensator *Compensator
	SideEffects ports.SideEffectQueue
	Events      ports.EventBus
	Logger      *slog.Logger
}

// ReconcilePaymentCommandHandler drives an order from pending_payment to a terminal state
// from at-least-once provider notifications.
type ReconcilePaymentCommandHandler struct {
	ReconcileDeps
	now func() time.Time
}

func NewReconcilePaymentCommandHandler(deps ReconcileDeps) *ReconcilePaymentCommandHandler {
	return &ReconcilePaymentCommandHandler{
		ReconcileDeps: deps,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (h *ReconcilePaymentCommandHandler) WithClock(now func() time.Time) *ReconcilePaymentCommandHandler {
	h.now = now
	return h
}

// Handle returns an error only for rejected input (ErrSignatureInvalid, ErrMalformedNotification) and
// unexpected failures the provider should redeliver. Every business outcome is a nil error.
func (h *ReconcilePaymentCommandHandler) Handle(ctx context.Context, cmd ReconcilePaymentCommand) (*ReconcileResult, error) {
	if err := h.Verifier.VerifySignature(cmd.Payload, cmd.Signature); err != nil {
		return nil, err
	}

	n, err := domain.ParseNotification(cmd.Payload)
	if err != nil {
		return nil, err
	}

	ctx = telemetry.WithLogAttrs(ctx, "event_id", n.EventID, "event_type", n.Type)
	res := &ReconcileResult{EventID: n.EventID, EventType: n.Type}
	if n.Kind == domain.KindUnknown {
		res.Outcome = OutcomeIgnored
		return res, nil
	}

	entry, err := h.EventLedger.RecordArrival(ctx, n.EventID, n.Type, n.SessionID)
	if err != nil {
		return nil, fmt.Errorf("record event arrival: %w", err)
	}
	if entry.IsDuplicate() {
		res.Outcome = OutcomeDuplicate
		res.OrderID = entry.OrderID
		return res, nil
	}

	order, err := h.resolveOrder(ctx, n)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			h.finalize(ctx, n.EventID, "", failAt(StepResolveOrder, err))
			res.Outcome = OutcomeOrderNotFound
			return res, nil
		}
		h.finalize(ctx, n.EventID, "", failAt(StepResolveOrder, err))
		return nil, fmt.Errorf("resolve order: %w", err)
	}
	res.OrderID = order.ID
	ctx = telemetry.WithLogAttrs(ctx, "order_id", order.ID)

	lease, err := h.Locker.Acquire(ctx, order.ID, n.SessionID)
	switch {
	case errors.Is(err, domain.ErrLockConflict):
		res.Outcome = OutcomeLockConflict
		return res, nil
	case errors.Is(err, domain.ErrAlreadyProcessed):
		h.finalize(ctx, n.EventID, order.ID, nil)
		res.Outcome = OutcomeDuplicate
		return res, nil
	case errors.Is(err, domain.ErrSessionMismatch):
		h.finalize(ctx, n.EventID, order.ID, failAt(StepAcquireLock, err))
		res.Outcome = OutcomeOrderNotFound
		return res, nil
	case err != nil:
		h.finalize(ctx, n.EventID, order.ID, failAt(StepAcquireLock, err))
		return nil, err
	}

	step, err := h.runLocked(ctx, n, order.ID, lease)
	h.finalize(ctx, n.EventID, order.ID, err)
	if err != nil {
		return nil, err
	}

	res.Outcome = step.outcome
	res.Reason = step.reason
	h.afterTerminal(ctx, n, order.ID, step)
	return res, nil
}

type stepResult struct {
	outcome   Outcome
	reason    string
	chargeRef string
}

// runLocked releases the lease on every exit path. A panic is recorded on the ledger after the
// release and then re-raised.
func (h *ReconcilePaymentCommandHandler) runLocked(ctx context.Context, n domain.Notification, orderID string, lease *orderlock.Lease) (step stepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.finalize(ctx, n.EventID, orderID, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()
	defer h.Locker.Release(ctx, lease)

	return h.underLock(ctx, n, orderID, lease)
}

func (h *ReconcilePaymentCommandHandler) underLock(ctx context.Context, n domain.Notification, orderID string, lease *orderlock.Lease) (stepResult, error) {
	if err := h.EventLedger.MarkProcessing(ctx, n.EventID, orderID); err != nil {
		return stepResult{}, failAt(StepMarkProcessing, err)
	}

	order, err := h.Orders.GetByID(ctx, orderID)
	if err != nil {
		return stepResult{}, failAt(StepLoadOrder, err)
	}

	switch n.Kind {
	case domain.KindPaymentFailed:
		return h.cancel(ctx, order, lease)
	case domain.KindPaymentPending:
		if err := h.recordRefs(ctx, order, domain.PaymentRef{PaymentIntentID: n.PaymentIntentID}); err != nil {
			return stepResult{}, failAt(StepPaymentRef, err)
		}
		return stepResult{outcome: OutcomeAwaitingPayment}, nil
	default:
		return h.settle(ctx, n, order, lease)
	}
}

func (h *ReconcilePaymentCommandHandler) cancel(ctx context.Context, order *domain.Order, lease *orderlock.Lease) (stepResult, error) {
	if order.Status != domain.StatusPendingPayment {
		h.Logger.WarnContext(ctx, "ignoring payment failure for captured order",
			"order_id", order.ID,
			"status", order.Status,
		)
		return stepResult{outcome: OutcomeIgnored}, nil
	}

	applied, err := h.Orders.Transition(ctx, ports.StatusTransition{
		OrderID:       order.ID,
		LeaseID:       lease.ID,
		From:          domain.StatusPendingPayment,
		To:            domain.StatusCancelled,
		MarkProcessed: true,
		At:            h.now(),
	})
	if err != nil {
		return stepResult{}, failAt(StepCancel, err)
	}
	if !applied {
		return stepResult{}, failAt(StepCancel, domain.ErrStaleLease)
	}

	if order.Discount != nil && order.Discount.Code != "" {
		if _, err := h.Discounts.Release(ctx, order.Discount.Code, order.ID); err != nil {
			h.Logger.WarnContext(ctx, "failed to release discount after cancellation",
				"order_id", order.ID,
				"error", err,
			)
		}
	}
	if _, err := h.Stock.Release(ctx, order.ID); err != nil {
		h.Logger.WarnContext(ctx, "failed to release stock after cancellation",
			"order_id", order.ID,
			"error", err,
		)
	}

	return stepResult{outcome: OutcomeCancelled}, nil
}

func (h *ReconcilePaymentCommandHandler) settle(ctx context.Context, n domain.Notification, order *domain.Order, lease *orderlock.Lease) (stepResult, error) {
	ref := domain.PaymentRef{PaymentIntentID: n.PaymentIntentID}
	if ref.PaymentIntentID == "" && order.PaymentRef.ChargeRef() == "" {
		ref = h.lookupSession(ctx, n.SessionID)
	}
	if err := h.recordRefs(ctx, order, ref); err != nil {
		return stepResult{}, failAt(StepPaymentRef, err)
	}

	chargeRef := ref.ChargeRef()
	if chargeRef == "" {
		chargeRef = order.PaymentRef.ChargeRef()
	}

	if order.Status == domain.StatusPendingPayment {
		if err := integrity.VerifyAmount(n.AmountMinor, n.Currency, *order); err != nil {
			return h.compensate(ctx, n, order.ID, chargeRef, domain.ReasonFraud, err)
		}

		if _, err := h.Stock.Confirm(ctx, order.ID, h.now()); err != nil {
			if errors.Is(err, domain.ErrReservationMissing) {
				return h.compensate(ctx, n, order.ID, chargeRef, domain.ReasonStockUnavailable, err)
			}
			return stepResult{}, failAt(StepConfirmStock, err)
		}

		applied, err := h.Orders.Transition(ctx, ports.StatusTransition{
			OrderID: order.ID,
			LeaseID: lease.ID,
			From:    domain.StatusPendingPayment,
			To:      domain.StatusPaid,
			At:      h.now(),
		})
		if err != nil {
			return stepResult{}, failAt(StepMarkPaid, err)
		}
		if !applied {
			return stepResult{}, failAt(StepMarkPaid, domain.ErrStaleLease)
		}
	}

	txID := chargeRef
	if txID == "" {
		txID = n.SessionID
	}
	if _, err := h.Ledger.Append(ctx, domain.PaymentLedgerEntry{
		TransactionID: txID,
		OrderID:       order.ID,
		Type:          domain.TransactionPayment,
		AmountMinor:   n.AmountMinor,
		Currency:      n.Currency,
		EventID:       n.EventID,
		CreatedAt:     h.now(),
	}); err != nil {
		return stepResult{}, failAt(StepPaymentLedger, err)
	}

	if order.Discount != nil && order.Discount.Code != "" {
		consumed, err := h.Discounts.Consume(ctx, order.Discount.Code, order.ID, order.UserID, order.Discount.AmountMinor)
		if err != nil {
			return stepResult{}, failAt(StepConsume, err)
		}
		if consumed.Err != nil {
			return h.compensate(ctx, n, order.ID, chargeRef, domain.ReasonDiscountInvalid, consumed.Err)
		}
	}

	applied, err := h.Orders.Transition(ctx, ports.StatusTransition{
		OrderID:       order.ID,
		LeaseID:       lease.ID,
		From:          domain.StatusPaid,
		To:            domain.StatusConfirmed,
		MarkProcessed: true,
		At:            h.now(),
	})
	if err != nil {
		return stepResult{}, failAt(StepMarkConfirmed, err)
	}
	if !applied {
		return stepResult{}, failAt(StepMarkConfirmed, domain.ErrStaleLease)
	}

	return stepResult{outcome: OutcomeProcessed, chargeRef: chargeRef}, nil
}

func (h *ReconcilePaymentCommandHandler) compensate(ctx context.Context, n domain.Notification, orderID, chargeRef, reason string, cause error) (stepResult, error) {
	h.Logger.WarnContext(ctx, "compensating captured payment",
		"order_id", orderID,
		"event_id", n.EventID,
		"reason", reason,
		"cause", cause,
	)

	_, err := h.Compensator.Compensate(ctx, CompensateRequest{
		OrderID:     orderID,
		ChargeRef:   chargeRef,
		Reason:      reason,
		Note:        cause.Error(),
		EventID:     n.EventID,
		AmountMinor: n.AmountMinor,
	})
	if err != nil {
		return stepResult{}, failAt(StepCompensate, err)
	}
	return stepResult{outcome: OutcomeCompensated, reason: reason, chargeRef: chargeRef}, nil
}

// lookupSession asks the provider for charge identifiers missing from the notification.
// A failed lookup is not fatal; compensation without a charge reference falls back to manual refund.
func (h *ReconcilePaymentCommandHandler) lookupSession(ctx context.Context, sessionID string) domain.PaymentRef {
	session, err := h.Provider.RetrieveSession(ctx, sessionID)
	if err != nil {
		h.Logger.WarnContext(ctx, "failed to retrieve payment session",
			"session_id", sessionID,
			"error", err,
		)
		return domain.PaymentRef{}
	}
	return domain.PaymentRef{
		PaymentIntentID: session.PaymentIntentID,
		ChargeID:        session.ChargeID,
		ReceiptRef:      session.ReceiptRef,
	}
}

func (h *ReconcilePaymentCommandHandler) recordRefs(ctx context.Context, order *domain.Order, ref domain.PaymentRef) error {
	if ref.PaymentIntentID == "" && ref.ChargeID == "" && ref.ReceiptRef == "" {
		return nil
	}
	if ref.PaymentIntentID == order.PaymentRef.PaymentIntentID &&
		ref.ChargeID == order.PaymentRef.ChargeID &&
		ref.ReceiptRef == order.PaymentRef.ReceiptRef {
		return nil
	}
	return h.Orders.RecordPaymentRef(ctx, order.ID, ref)
}

func (h *ReconcilePaymentCommandHandler) resolveOrder(ctx context.Context, n domain.Notification) (*domain.Order, error) {
	if n.OrderID != "" {
		return h.Orders.GetByID(ctx, n.OrderID)
	}
	return h.Orders.GetBySessionID(ctx, n.SessionID)
}

// finalize writes the terminal ledger state. It runs after the lock is released and ignores cancellation.
func (h *ReconcilePaymentCommandHandler) finalize(ctx context.Context, eventID, orderID string, cause error) {
	ctx = context.WithoutCancel(ctx)

	status := domain.EventProcessed
	details := domain.EventDetails{OrderID: orderID}
	if cause != nil {
		status = domain.EventFailed
		details.LastError = cause.Error()
		var stepErr *StepError
		if errors.As(cause, &stepErr) {
			details.FailureStep = stepErr.Step
			details.LastError = stepErr.Err.Error()
		}
	}

	if err := h.EventLedger.Finalize(ctx, eventID, status, details); err != nil {
		h.Logger.ErrorContext(ctx, "failed to finalize event ledger entry",
			"event_id", eventID,
			"status", status,
			"error", err,
		)
	}
}

// afterTerminal runs best-effort work once the order reached a terminal outcome.
func (h *ReconcilePaymentCommandHandler) afterTerminal(ctx context.Context, n domain.Notification, orderID string, step stepResult) {
	switch step.outcome {
	case OutcomeProcessed:
		if err := h.SideEffects.Enqueue(ctx, ports.ConfirmedOrderTask{
			OrderID:   orderID,
			ChargeRef: step.chargeRef,
			EventID:   n.EventID,
		}); err != nil {
			h.Logger.ErrorContext(ctx, "failed to enqueue post-confirmation side effects",
				"order_id", orderID,
				"error", err,
			)
		}
		if err := h.Events.PublishOrderConfirmed(ctx, orderID); err != nil {
			h.Logger.WarnContext(ctx, "failed to publish order confirmed event", "order_id", orderID, "error", err)
		}
	case OutcomeCancelled:
		if err := h.Events.PublishOrderCancelled(ctx, orderID); err != nil {
			h.Logger.WarnContext(ctx, "failed to publish order cancelled event", "order_id", orderID, "error", err)
		}
	}
}
