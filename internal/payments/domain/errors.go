package domain

import "errors"

var (
	// ErrSignatureInvalid rejects a notification that failed authentication.
	ErrSignatureInvalid = errors.New("invalid notification signature")
	// ErrMalformedNotification rejects a body that cannot be decoded.
	ErrMalformedNotification = errors.New("malformed notification")
	// ErrAmountMismatch flags a paid amount or currency that differs from the order total.
	ErrAmountMismatch = errors.New("paid amount does not match order total")
	// ErrOrderNotFound is returned when the referenced order does not exist.
	ErrOrderNotFound = errors.New("order not found")
	// ErrLockConflict signals that a live peer holds the order lock.
	ErrLockConflict = errors.New("order lock held by another delivery")
	// ErrReservationMissing is returned when a stock hold is missing, released or expired.
	ErrReservationMissing = errors.New("stock reservation missing or expired")
	// ErrDiscountInvalid is returned when a coupon reservation cannot be consumed for the order.
	ErrDiscountInvalid = errors.New("discount reservation invalid")
	// ErrRefundProvider wraps a refund the provider refused or could not complete.
	ErrRefundProvider = errors.New("refund provider failure")
	// ErrInvalidTransition is returned for a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrStaleLease is returned when a guarded write no longer holds the lease.
	ErrStaleLease = errors.New("order lease no longer held")
	// ErrAlreadyProcessed means a webhook already drove the order to a processed outcome.
	ErrAlreadyProcessed = errors.New("order already processed by a webhook")
	// ErrSessionMismatch means the notification's session does not belong to the order.
	ErrSessionMismatch = errors.New("notification session does not match order")
)
