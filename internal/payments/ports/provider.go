package ports

import (
	"context"
	"errors"
)

// ErrProviderNotFound is returned when the provider has no record of the reference.
var ErrProviderNotFound = errors.New("provider resource not found")

// PaymentSession is the provider's view of a checkout session.
type PaymentSession struct {
	ID              string
	PaymentStatus   string
	AmountMinor     int64
	Currency        string
	PaymentIntentID string
	ChargeID        string
	ReceiptRef      string
}

// RefundRequest asks the provider to refund a captured charge.
type RefundRequest struct {
	ChargeRef      string
	AmountMinor    int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundResult is the provider's answer to a refund request.
type RefundResult struct {
	ID     string
	Status string
}

// PaymentProvider is the outbound surface of the payment provider.
type PaymentProvider interface {
	RetrieveSession(ctx context.Context, sessionID string) (*PaymentSession, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}
