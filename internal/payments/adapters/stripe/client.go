// Package stripe talks to the payment provider through its Go SDK.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

// Config holds the client settings. An empty BaseURL uses the SDK default.
type Config struct {
	BaseURL    string
	SecretKey  string
	Timeout    time.Duration
	MaxRetries uint64
}

// Client implements ports.PaymentProvider. The SDK retries network failures, conflicts and 5xx
// responses, and sends the caller's idempotency key on every attempt.
type Client struct {
	api *client.API
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	backendCfg := &stripeapi.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripeapi.Int64(int64(cfg.MaxRetries)),
		LeveledLogger:     slogLogger{logger: logger},
		EnableTelemetry:   stripeapi.Bool(false),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripeapi.String(cfg.BaseURL)
	}

	backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, backendCfg)
	return &Client{
		api: client.New(cfg.SecretKey, &stripeapi.Backends{
			API:     backend,
			Connect: backend,
			Uploads: backend,
		}),
	}
}

// RetrieveSession fetches a checkout session with its intent and latest charge expanded.
func (c *Client) RetrieveSession(ctx context.Context, sessionID string) (*ports.PaymentSession, error) {
	params := &stripeapi.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent.latest_charge")

	s, err := c.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve session %s: %w", sessionID, mapError(err))
	}

	session := &ports.PaymentSession{
		ID:            s.ID,
		PaymentStatus: string(s.PaymentStatus),
		AmountMinor:   s.AmountTotal,
		Currency:      strings.ToLower(string(s.Currency)),
	}
	if pi := s.PaymentIntent; pi != nil {
		session.PaymentIntentID = pi.ID
		if ch := pi.LatestCharge; ch != nil {
			session.ChargeID = ch.ID
			session.ReceiptRef = ch.ReceiptURL
		}
	}
	return session, nil
}

// CreateRefund refunds a payment intent or charge. API errors wrap domain.ErrRefundProvider.
func (c *Client) CreateRefund(ctx context.Context, req ports.RefundRequest) (*ports.RefundResult, error) {
	params := &stripeapi.RefundParams{Reason: stripeapi.String(refundReason(req.Reason))}
	params.Context = ctx
	if strings.HasPrefix(req.ChargeRef, "ch_") {
		params.Charge = stripeapi.String(req.ChargeRef)
	} else {
		params.PaymentIntent = stripeapi.String(req.ChargeRef)
	}
	if req.AmountMinor > 0 {
		params.Amount = stripeapi.Int64(req.AmountMinor)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	r, err := c.api.Refunds.New(params)
	if err != nil {
		var apiErr *stripeapi.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: %w", domain.ErrRefundProvider, err)
		}
		return nil, fmt.Errorf("create refund: %w", err)
	}
	return &ports.RefundResult{ID: r.ID, Status: string(r.Status)}, nil
}

func refundReason(reason string) string {
	if reason == domain.ReasonFraud {
		return string(stripeapi.RefundReasonFraudulent)
	}
	return string(stripeapi.RefundReasonRequestedByCustomer)
}

func mapError(err error) error {
	var apiErr *stripeapi.Error
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ports.ErrProviderNotFound, err)
	}
	return err
}

// slogLogger routes SDK request logs into the service logger.
type slogLogger struct {
	logger *slog.Logger
}

func (l slogLogger) Debugf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l slogLogger) Infof(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l slogLogger) Warnf(format string, v ...any) {
	l.logger.Warn(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l slogLogger) Errorf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...), "component", "stripe")
}
