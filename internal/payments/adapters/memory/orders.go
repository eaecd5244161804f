package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

// OrderRepository provides an in-memory order store useful for local development and tests.
// Each method holds the mutex for its whole check-and-write, mirroring a guarded UPDATE.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

// NewOrderRepository constructs a new in-memory repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]domain.Order)}
}

// Put stores an order as checkout would create it.
func (r *OrderRepository) Put(order domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = cloneOrder(order)
}

func (r *OrderRepository) GetByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	copy := cloneOrder(order)
	return &copy, nil
}

func (r *OrderRepository) GetBySessionID(_ context.Context, sessionID string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, order := range r.orders {
		if order.PaymentRef.SessionID == sessionID {
			copy := cloneOrder(order)
			return &copy, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

// List returns orders respecting the provided filter. Pagination is 1-based.
func (r *OrderRepository) List(_ context.Context, filter ports.ListFilter) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.Order
	for _, order := range r.orders {
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	start := (page - 1) * pageSize
	if start >= len(result) {
		return []domain.Order{}, nil
	}
	end := start + pageSize
	if end > len(result) {
		end = len(result)
	}
	return result[start:end], nil
}

func (r *OrderRepository) AcquireWebhookLock(_ context.Context, req ports.LockRequest) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[req.OrderID]
	if !ok {
		return false, nil
	}
	if !order.IsLockable() || order.PaymentRef.SessionID != req.SessionRef || order.WebhookProcessedAt != nil {
		return false, nil
	}
	if order.WebhookLock != nil && !order.WebhookLock.LockedAt.Before(req.StaleBefore) {
		return false, nil
	}

	order.WebhookLock = &domain.Lease{ID: req.LeaseID, LockedAt: req.Now}
	r.orders[order.ID] = order
	return true, nil
}

func (r *OrderRepository) ReleaseWebhookLock(_ context.Context, orderID, leaseID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok || order.WebhookLock == nil || order.WebhookLock.ID != leaseID {
		return false, nil
	}
	order.WebhookLock = nil
	r.orders[orderID] = order
	return true, nil
}

func (r *OrderRepository) RecordPaymentRef(_ context.Context, orderID string, ref domain.PaymentRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if ref.PaymentIntentID != "" {
		order.PaymentRef.PaymentIntentID = ref.PaymentIntentID
	}
	if ref.ChargeID != "" {
		order.PaymentRef.ChargeID = ref.ChargeID
	}
	if ref.ReceiptRef != "" {
		order.PaymentRef.ReceiptRef = ref.ReceiptRef
	}
	order.UpdatedAt = time.Now().UTC()
	r.orders[orderID] = order
	return nil
}

func (r *OrderRepository) Transition(_ context.Context, t ports.StatusTransition) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[t.OrderID]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if order.Status != t.From {
		return false, nil
	}
	if t.LeaseID != "" && (order.WebhookLock == nil || order.WebhookLock.ID != t.LeaseID) {
		return false, nil
	}

	order.Status = t.To
	order.UpdatedAt = t.At
	if t.MarkProcessed {
		at := t.At
		order.WebhookProcessedAt = &at
	}
	r.orders[order.ID] = order
	return true, nil
}

func (r *OrderRepository) MarkRefundPending(_ context.Context, orderID string, refund domain.Refund) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if !domain.CanTransition(order.Status, domain.StatusRefundPending) || order.Refund.Status == domain.RefundSucceeded {
		return false, nil
	}

	now := time.Now().UTC()
	order.Status = domain.StatusRefundPending
	order.Refund.Status = domain.RefundPending
	order.Refund.Reason = refund.Reason
	order.Refund.AmountMinor = refund.AmountMinor
	order.Refund.Note = refund.Note
	order.Refund.FailureMessage = ""
	if refund.IdempotencyKey != "" {
		order.Refund.IdempotencyKey = refund.IdempotencyKey
	}
	if order.WebhookProcessedAt == nil {
		order.WebhookProcessedAt = &now
	}
	order.UpdatedAt = now
	r.orders[orderID] = order
	return true, nil
}

func (r *OrderRepository) CompleteRefund(_ context.Context, orderID, providerRefundID string, refundedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if order.Status != domain.StatusRefundPending {
		return false, nil
	}

	order.Status = domain.StatusRefunded
	order.Refund.Status = domain.RefundSucceeded
	order.Refund.ProviderRefundID = providerRefundID
	order.Refund.FailureMessage = ""
	order.Refund.RefundedAt = &refundedAt
	order.UpdatedAt = refundedAt
	r.orders[orderID] = order
	return true, nil
}

func (r *OrderRepository) FailRefund(_ context.Context, orderID, message string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if order.Status != domain.StatusRefundPending {
		return false, nil
	}

	order.Refund.Status = domain.RefundFailed
	order.Refund.FailureMessage = message
	order.UpdatedAt = time.Now().UTC()
	r.orders[orderID] = order
	return true, nil
}

func cloneOrder(o domain.Order) domain.Order {
	c := o
	c.Items = append([]domain.LineItem(nil), o.Items...)
	if o.Discount != nil {
		d := *o.Discount
		c.Discount = &d
	}
	if o.WebhookLock != nil {
		l := *o.WebhookLock
		c.WebhookLock = &l
	}
	if o.WebhookProcessedAt != nil {
		t := *o.WebhookProcessedAt
		c.WebhookProcessedAt = &t
	}
	if o.Refund.RefundedAt != nil {
		t := *o.Refund.RefundedAt
		c.Refund.RefundedAt = &t
	}
	return c
}
