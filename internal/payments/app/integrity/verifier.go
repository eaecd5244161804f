// Package integrity authenticates provider notifications and cross-checks paid amounts.
package integrity

import (
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
)

// DefaultTolerance bounds how old a signed timestamp may be.
const DefaultTolerance = 5 * time.Minute

// Verifier checks the provider signature header of the form "t=<unix>,v1=<hex>[,v1=<hex>]".
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier constructs a Verifier. A zero tolerance disables the timestamp window.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: secret, tolerance: tolerance}
}

// VerifySignature fails closed with ErrSignatureInvalid on any mismatch.
func (v *Verifier) VerifySignature(payload []byte, header string) error {
	if v.secret == "" {
		return fmt.Errorf("%w: no signing secret configured", domain.ErrSignatureInvalid)
	}

	var err error
	if v.tolerance > 0 {
		err = webhook.ValidatePayloadWithTolerance(payload, header, v.secret, v.tolerance)
	} else {
		err = webhook.ValidatePayloadIgnoringTolerance(payload, header, v.secret)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSignatureInvalid, err)
	}
	return nil
}

// Sign produces a header for payload, used by tests and local tooling.
func Sign(payload []byte, secret string, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	}).Header
}

// VerifyAmount requires exact equality of minor units and currency.
func VerifyAmount(amountMinor int64, currency string, order domain.Order) error {
	if !strings.EqualFold(strings.TrimSpace(currency), order.Pricing.Currency) {
		return fmt.Errorf("%w: currency %q, expected %q", domain.ErrAmountMismatch, currency, order.Pricing.Currency)
	}
	if amountMinor != order.Pricing.TotalMinor {
		return fmt.Errorf("%w: paid %d, expected %d", domain.ErrAmountMismatch, amountMinor, order.Pricing.TotalMinor)
	}
	return nil
}
