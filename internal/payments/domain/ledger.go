package domain

import "time"

// EventStatus is the processing state of an inbound provider notification.
type EventStatus string

const (
	EventReceived   EventStatus = "received"
	EventProcessing EventStatus = "processing"
	EventProcessed  EventStatus = "processed"
	EventFailed     EventStatus = "failed"
)

// EventEntry is one row per provider notification id.
type EventEntry struct {
	EventID     string      `json:"event_id"`
	Type        string      `json:"type"`
	SessionRef  string      `json:"session_ref"`
	Status      EventStatus `json:"status"`
	Attempts    int         `json:"attempts"`
	FailureStep string      `json:"failure_step,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
	OrderID     string      `json:"order_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// IsDuplicate reports whether the event already reached processed.
func (e EventEntry) IsDuplicate() bool {
	return e.Status == EventProcessed
}

// EventDetails carries the terminal details written by Finalize.
type EventDetails struct {
	OrderID     string
	FailureStep string
	LastError   string
}

// TransactionType distinguishes payment ledger rows.
type TransactionType string

const (
	TransactionPayment TransactionType = "payment"
	TransactionRefund  TransactionType = "refund"
)

// PaymentLedgerEntry is an append-only audit row keyed by provider transaction id.
type PaymentLedgerEntry struct {
	TransactionID string          `json:"transaction_id"`
	OrderID       string          `json:"order_id"`
	Type          TransactionType `json:"type"`
	AmountMinor   int64           `json:"amount_minor"`
	Currency      string          `json:"currency"`
	EventID       string          `json:"event_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
