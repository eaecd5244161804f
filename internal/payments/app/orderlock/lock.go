// Package orderlock implements the lease-style webhook lock stored on the order record.
package orderlock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

// DefaultStaleAfter bounds how long a crashed handler can block redelivery.
const DefaultStaleAfter = 10 * time.Minute

// Lease is a held webhook lock.
type Lease struct {
	OrderID    string
	ID         string
	AcquiredAt time.Time
}

// Locker acquires and releases webhook leases through the order repository.
type Locker struct {
	orders     ports.OrderRepository
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
	newLeaseID func() string
}

// NewLocker constructs a Locker. A non-positive staleAfter falls back to DefaultStaleAfter.
func NewLocker(orders ports.OrderRepository, staleAfter time.Duration, logger *slog.Logger) *Locker {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Locker{
		orders:     orders,
		staleAfter: staleAfter,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newLeaseID: uuid.NewString,
	}
}

// WithClock overrides the time source.
func (l *Locker) WithClock(now func() time.Time) *Locker {
	l.now = now
	return l
}

// Acquire takes the lease with a single conditional update. On failure it re-reads the order to
// tell ErrAlreadyProcessed and ErrSessionMismatch apart from a live peer (ErrLockConflict).
func (l *Locker) Acquire(ctx context.Context, orderID, sessionRef string) (*Lease, error) {
	now := l.now()
	lease := &Lease{OrderID: orderID, ID: l.newLeaseID(), AcquiredAt: now}

	acquired, err := l.orders.AcquireWebhookLock(ctx, ports.LockRequest{
		OrderID:     orderID,
		SessionRef:  sessionRef,
		LeaseID:     lease.ID,
		Now:         now,
		StaleBefore: now.Add(-l.staleAfter),
	})
	if err != nil {
		return nil, fmt.Errorf("acquire webhook lock: %w", err)
	}
	if acquired {
		return lease, nil
	}

	order, err := l.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("inspect order after lock miss: %w", err)
	}

	switch {
	case order.WebhookProcessedAt != nil || !order.IsLockable():
		return nil, domain.ErrAlreadyProcessed
	case order.PaymentRef.SessionID != sessionRef:
		return nil, domain.ErrSessionMismatch
	default:
		return nil, domain.ErrLockConflict
	}
}

// Release clears the lease if it is still ours. It never uses the caller's cancellation.
func (l *Locker) Release(ctx context.Context, lease *Lease) {
	if lease == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	released, err := l.orders.ReleaseWebhookLock(ctx, lease.OrderID, lease.ID)
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to release webhook lock",
			"order_id", lease.OrderID,
			"lease_id", lease.ID,
			"error", err,
		)
		return
	}
	if !released {
		l.logger.WarnContext(ctx, "webhook lock was taken over before release",
			"order_id", lease.OrderID,
			"lease_id", lease.ID,
			"held_for", l.now().Sub(lease.AcquiredAt),
		)
	}
}
