package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
)

// DiscountReservations keeps coupon reservations keyed by (code, order).
type DiscountReservations struct {
	mu     sync.Mutex
	items  map[string]domain.DiscountReservation
	usages int
}

// NewDiscountReservations creates an empty store.
func NewDiscountReservations() *DiscountReservations {
	return &DiscountReservations{items: make(map[string]domain.DiscountReservation)}
}

// Put stores a reservation as checkout would create it.
func (s *DiscountReservations) Put(r domain.DiscountReservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[discountKey(r.Code, r.OrderID)] = r
}

// Usages returns how many consumptions were recorded.
func (s *DiscountReservations) Usages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usages
}

func (s *DiscountReservations) Get(_ context.Context, code, orderID string) (*domain.DiscountReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[discountKey(code, orderID)]
	if !ok {
		return nil, nil
	}
	copy := r
	return &copy, nil
}

func (s *DiscountReservations) Consume(_ context.Context, code, orderID, userID string, amountMinor int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := discountKey(code, orderID)
	r, ok := s.items[key]
	if !ok || r.Status != domain.DiscountReserved {
		return false, nil
	}
	r.Status = domain.DiscountConsumed
	r.UserID = userID
	r.AmountMinor = amountMinor
	r.ConsumedAt = &at
	s.items[key] = r
	s.usages++
	return true, nil
}

func (s *DiscountReservations) Release(_ context.Context, code, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := discountKey(code, orderID)
	r, ok := s.items[key]
	if !ok || r.Status != domain.DiscountReserved {
		return false, nil
	}
	r.Status = domain.DiscountReleased
	s.items[key] = r
	return true, nil
}

func discountKey(code, orderID string) string {
	return code + "|" + orderID
}
