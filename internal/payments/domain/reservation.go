package domain

import "time"

// ReservationStatus is the state of a stock hold.
type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationReleased  ReservationStatus = "released"
)

// StockReservation is a time-boxed hold created at checkout.
type StockReservation struct {
	ID        string            `json:"id"`
	OrderID   string            `json:"order_id"`
	ProductID string            `json:"product_id"`
	VariantID string            `json:"variant_id,omitempty"`
	Quantity  int               `json:"quantity"`
	ExpiresAt time.Time         `json:"expires_at"`
	Status    ReservationStatus `json:"status"`
}

// Confirmable reports whether the hold can still be made permanent at now.
func (r StockReservation) Confirmable(now time.Time) bool {
	return r.Status == ReservationHeld && now.Before(r.ExpiresAt)
}

// DiscountStatus is the state of a coupon reservation.
type DiscountStatus string

const (
	DiscountReserved DiscountStatus = "reserved"
	DiscountConsumed DiscountStatus = "consumed"
	DiscountReleased DiscountStatus = "released"
)

// DiscountReservation ties a coupon to exactly one order.
type DiscountReservation struct {
	Code        string         `json:"code"`
	OrderID     string         `json:"order_id"`
	UserID      string         `json:"user_id,omitempty"`
	Status      DiscountStatus `json:"status"`
	AmountMinor int64          `json:"amount_minor"`
	ConsumedAt  *time.Time     `json:"consumed_at,omitempty"`
}

// ConsumeResult is the outcome of a coupon consumption attempt.
type ConsumeResult struct {
	Success     bool
	AlreadyUsed bool
	Err         error
}

// Invoice is issued once per (order, charge) after confirmation.
type Invoice struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"order_id"`
	Number         string    `json:"number"`
	IdempotencyKey string    `json:"idempotency_key"`
	AmountMinor    int64     `json:"amount_minor"`
	Currency       string    `json:"currency"`
	IssuedAt       time.Time `json:"issued_at"`
}
