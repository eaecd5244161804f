package domain_test

import (
	"testing"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
	"github.com/shopspring/decimal"
)

func TestPricingValidate(t *testing.T) {
	tests := []struct {
		name    string
		pricing domain.Pricing
		wantErr bool
	}{
		{
			name: "valid pricing",
			pricing: domain.Pricing{
				Currency:      "ils",
				SubtotalMinor: 9500,
				ShippingMinor: 1000,
				DiscountMinor: 500,
				TotalMinor:    10000,
				Total:         decimal.RequireFromString("100.00"),
			},
		},
		{
			name: "missing currency",
			pricing: domain.Pricing{
				SubtotalMinor: 10000,
				TotalMinor:    10000,
				Total:         decimal.RequireFromString("100"),
			},
			wantErr: true,
		},
		{
			name: "breakdown does not add up",
			pricing: domain.Pricing{
				Currency:      "ils",
				SubtotalMinor: 9000,
				TotalMinor:    10000,
				Total:         decimal.RequireFromString("100"),
			},
			wantErr: true,
		},
		{
			name: "major and minor disagree",
			pricing: domain.Pricing{
				Currency:      "ils",
				SubtotalMinor: 10000,
				TotalMinor:    10000,
				Total:         decimal.RequireFromString("100.01"),
			},
			wantErr: true,
		},
		{
			name: "negative total",
			pricing: domain.Pricing{
				Currency:      "ils",
				DiscountMinor: 100,
				TotalMinor:    -100,
				Total:         decimal.RequireFromString("-1"),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pricing.Validate(2)
			if (err != nil) != tt.wantErr {
				t.Errorf("Pricing.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOrderIsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status domain.OrderStatus
		want   bool
	}{
		{"confirmed is terminal", domain.StatusConfirmed, true},
		{"cancelled is terminal", domain.StatusCancelled, true},
		{"refunded is terminal", domain.StatusRefunded, true},
		{"pending payment is not terminal", domain.StatusPendingPayment, false},
		{"paid is not terminal", domain.StatusPaid, false},
		{"refund pending is not terminal", domain.StatusRefundPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := domain.Order{Status: tt.status}
			if got := order.IsTerminal(); got != tt.want {
				t.Errorf("Order.IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrderNeedsAttention(t *testing.T) {
	failed := domain.Order{Status: domain.StatusRefundPending, Refund: domain.Refund{Status: domain.RefundFailed}}
	if !failed.NeedsAttention() {
		t.Error("expected failed refund to need attention")
	}

	pending := domain.Order{Status: domain.StatusRefundPending, Refund: domain.Refund{Status: domain.RefundPending}}
	if pending.NeedsAttention() {
		t.Error("pending refund should not need attention yet")
	}
}

func TestPaymentRefChargeRef(t *testing.T) {
	ref := domain.PaymentRef{ChargeID: "ch_1"}
	if got := ref.ChargeRef(); got != "ch_1" {
		t.Errorf("ChargeRef() = %q, want ch_1", got)
	}

	ref.PaymentIntentID = "pi_1"
	if got := ref.ChargeRef(); got != "pi_1" {
		t.Errorf("ChargeRef() = %q, want pi_1", got)
	}
}
