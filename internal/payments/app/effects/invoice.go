package effects

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

// DefaultInvoiceLockStaleAfter bounds how long a crashed issuer blocks the next attempt.
const DefaultInvoiceLockStaleAfter = 2 * time.Minute

// ErrIssueInProgress means another worker holds the issuance lock for the same key.
var ErrIssueInProgress = errors.New("invoice issuance in progress")

// InvoiceKey derives the issuance idempotency key for an order's charge.
func InvoiceKey(orderID, chargeRef string) string {
	return "invoice:" + orderID + ":" + chargeRef
}

// InvoiceIssuer issues at most one invoice per (order, charge) under its own short-lived lock.
type InvoiceIssuer struct {
	store      ports.InvoiceStore
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewInvoiceIssuer(store ports.InvoiceStore, staleAfter time.Duration, logger *slog.Logger) *InvoiceIssuer {
	if staleAfter <= 0 {
		staleAfter = DefaultInvoiceLockStaleAfter
	}
	return &InvoiceIssuer{
		store:      store,
		staleAfter: staleAfter,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (i *InvoiceIssuer) WithClock(now func() time.Time) *InvoiceIssuer {
	i.now = now
	return i
}

// Issue returns the existing invoice for the key or creates it.
func (i *InvoiceIssuer) Issue(ctx context.Context, order *domain.Order, chargeRef string) (*domain.Invoice, error) {
	key := InvoiceKey(order.ID, chargeRef)

	existing, err := i.store.GetByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	now := i.now()
	leaseID := uuid.NewString()
	acquired, err := i.store.AcquireIssueLock(ctx, key, order.ID, leaseID, now, now.Add(-i.staleAfter))
	if err != nil {
		return nil, fmt.Errorf("acquire invoice lock: %w", err)
	}
	if !acquired {
		if existing, err := i.store.GetByKey(ctx, key); err == nil && existing != nil {
			return existing, nil
		}
		return nil, ErrIssueInProgress
	}
	defer func() {
		if err := i.store.ReleaseIssueLock(context.WithoutCancel(ctx), key, leaseID); err != nil {
			i.logger.WarnContext(ctx, "failed to release invoice lock", "order_id", order.ID, "error", err)
		}
	}()

	invoice := domain.Invoice{
		ID:             uuid.NewString(),
		OrderID:        order.ID,
		Number:         invoiceNumber(now),
		IdempotencyKey: key,
		AmountMinor:    order.Pricing.TotalMinor,
		Currency:       order.Pricing.Currency,
		IssuedAt:       now,
	}

	issued, err := i.store.MarkIssued(ctx, invoice, leaseID)
	if err != nil {
		return nil, fmt.Errorf("store invoice: %w", err)
	}
	if !issued {
		return nil, fmt.Errorf("%w: lock for %s was taken over", ErrIssueInProgress, key)
	}

	i.logger.InfoContext(ctx, "invoice issued",
		"order_id", order.ID,
		"invoice_number", invoice.Number,
	)
	return &invoice, nil
}

func invoiceNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "INV-" + at.Format("20060102") + "-" + suffix
}
