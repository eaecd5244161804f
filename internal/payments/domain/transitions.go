package domain

import "fmt"

var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	StatusPendingPayment: {
		StatusPaid:          true,
		StatusCancelled:     true,
		StatusRefundPending: true,
	},
	StatusPaid: {
		StatusConfirmed:     true,
		StatusRefundPending: true,
	},
	StatusRefundPending: {
		StatusRefunded:      true,
		StatusRefundPending: true,
	},
	StatusConfirmed: {
		StatusReturnRequested: true,
	},
	StatusReturnRequested: {},
	StatusCancelled:       {},
	StatusRefunded:        {},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to OrderStatus) bool {
	next, ok := allowedTransitions[from]
	return ok && next[to]
}

// ValidateTransition returns ErrInvalidTransition when from -> to is not permitted.
func ValidateTransition(from, to OrderStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// SourcesFor lists every status that may move to the target.
func SourcesFor(to OrderStatus) []OrderStatus {
	var sources []OrderStatus
	for _, from := range []OrderStatus{
		StatusPendingPayment,
		StatusPaid,
		StatusConfirmed,
		StatusCancelled,
		StatusRefundPending,
		StatusRefunded,
		StatusReturnRequested,
	} {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}
