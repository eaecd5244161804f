package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
)

// StockReservations keeps holds and available stock per product/variant.
type StockReservations struct {
	mu           sync.Mutex
	reservations map[string]domain.StockReservation
	available    map[string]int
}

// NewStockReservations creates an empty store.
func NewStockReservations() *StockReservations {
	return &StockReservations{
		reservations: make(map[string]domain.StockReservation),
		available:    make(map[string]int),
	}
}

// Put stores a reservation as checkout would create it.
func (s *StockReservations) Put(r domain.StockReservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[r.ID] = r
}

// SetAvailable seeds available stock for a product/variant.
func (s *StockReservations) SetAvailable(productID, variantID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available[stockKey(productID, variantID)] = qty
}

// Available returns available stock for a product/variant.
func (s *StockReservations) Available(productID, variantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available[stockKey(productID, variantID)]
}

func (s *StockReservations) ListByOrder(_ context.Context, orderID string) ([]domain.StockReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.StockReservation
	for _, r := range s.reservations {
		if r.OrderID == orderID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *StockReservations) ConfirmHold(_ context.Context, reservationID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reservationID]
	if !ok || !r.Confirmable(now) {
		return false, nil
	}
	r.Status = domain.ReservationConfirmed
	s.reservations[reservationID] = r
	s.available[stockKey(r.ProductID, r.VariantID)] -= r.Quantity
	return true, nil
}

func (s *StockReservations) ReleaseHold(_ context.Context, reservationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reservationID]
	if !ok || r.Status != domain.ReservationHeld {
		return false, nil
	}
	r.Status = domain.ReservationReleased
	s.reservations[reservationID] = r
	return true, nil
}

func (s *StockReservations) RevertConfirmed(_ context.Context, reservationID string) (bool, error) {
	return s.unconfirm(reservationID, domain.ReservationReleased), nil
}

func (s *StockReservations) UnconfirmHold(_ context.Context, reservationID string) (bool, error) {
	return s.unconfirm(reservationID, domain.ReservationHeld), nil
}

func (s *StockReservations) unconfirm(reservationID string, to domain.ReservationStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reservationID]
	if !ok || r.Status != domain.ReservationConfirmed {
		return false
	}
	r.Status = to
	s.reservations[reservationID] = r
	s.available[stockKey(r.ProductID, r.VariantID)] += r.Quantity
	return true
}

// Get returns a reservation by id.
func (s *StockReservations) Get(reservationID string) (domain.StockReservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[reservationID]
	return r, ok
}

func stockKey(productID, variantID string) string {
	return productID + "/" + variantID
}
