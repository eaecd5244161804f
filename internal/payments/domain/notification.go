package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Provider notification types handled by reconciliation.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	EventCheckoutExpired       = "checkout.session.expired"
)

// NotificationKind is the tag of the Notification union.
type NotificationKind int

const (
	KindUnknown NotificationKind = iota
	// KindPaymentCaptured means money has been captured by the provider.
	KindPaymentCaptured
	// KindPaymentPending means checkout completed but an async method has not settled yet.
	KindPaymentPending
	// KindPaymentFailed means the payment failed before capture.
	KindPaymentFailed
)

func (k NotificationKind) String() string {
	switch k {
	case KindPaymentCaptured:
		return "payment_captured"
	case KindPaymentPending:
		return "payment_pending"
	case KindPaymentFailed:
		return "payment_failed"
	default:
		return "unknown"
	}
}

// Notification is the validated subset of a provider event this engine needs.
type Notification struct {
	EventID         string
	Type            string
	Kind            NotificationKind
	SessionID       string
	OrderID         string
	PaymentIntentID string
	AmountMinor     int64
	Currency        string
}

type rawEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object rawSession `json:"object"`
	} `json:"data"`
}

type rawSession struct {
	ID                string            `json:"id"`
	PaymentStatus     string            `json:"payment_status"`
	AmountTotal       *int64            `json:"amount_total"`
	Currency          string            `json:"currency"`
	PaymentIntent     json.RawMessage   `json:"payment_intent"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// ParseNotification decodes a raw provider body. Unknown types decode to KindUnknown without error.
func ParseNotification(body []byte) (Notification, error) {
	var evt rawEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if strings.TrimSpace(evt.ID) == "" || strings.TrimSpace(evt.Type) == "" {
		return Notification{}, fmt.Errorf("%w: id and type are required", ErrMalformedNotification)
	}

	n := Notification{EventID: evt.ID, Type: evt.Type}

	switch evt.Type {
	case EventCheckoutCompleted:
		if evt.Data.Object.PaymentStatus == "paid" || evt.Data.Object.PaymentStatus == "no_payment_required" {
			n.Kind = KindPaymentCaptured
		} else {
			n.Kind = KindPaymentPending
		}
	case EventAsyncPaymentSucceeded:
		n.Kind = KindPaymentCaptured
	case EventAsyncPaymentFailed, EventCheckoutExpired:
		n.Kind = KindPaymentFailed
	default:
		return n, nil
	}

	session := evt.Data.Object
	if strings.TrimSpace(session.ID) == "" {
		return Notification{}, fmt.Errorf("%w: session id is required", ErrMalformedNotification)
	}
	n.SessionID = session.ID
	n.OrderID = session.Metadata["orderId"]
	if n.OrderID == "" {
		n.OrderID = session.ClientReferenceID
	}
	n.Currency = strings.ToLower(session.Currency)
	n.PaymentIntentID = decodeExpandable(session.PaymentIntent)

	if n.Kind == KindPaymentCaptured {
		if session.AmountTotal == nil || n.Currency == "" {
			return Notification{}, fmt.Errorf("%w: amount_total and currency are required", ErrMalformedNotification)
		}
		n.AmountMinor = *session.AmountTotal
	} else if session.AmountTotal != nil {
		n.AmountMinor = *session.AmountTotal
	}

	return n, nil
}

// decodeExpandable accepts either a bare id or an expanded object with an id field.
func decodeExpandable(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
