package queries

import (
	"context"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

const maxAttentionPageSize = 100

// RefundAttentionQuery pages through refund_pending orders.
type RefundAttentionQuery struct {
	Page     int
	PageSize int
	// IncludeInFlight also returns refunds still pending at the provider.
	IncludeInFlight bool
}

// RefundAttentionItem is one row of the manual-ops queue.
type RefundAttentionItem struct {
	OrderID        string              `json:"order_id"`
	Status         domain.OrderStatus  `json:"status"`
	RefundStatus   domain.RefundStatus `json:"refund_status"`
	Reason         string              `json:"reason"`
	AmountMinor    int64               `json:"amount_minor"`
	Currency       string              `json:"currency"`
	ChargeRef      string              `json:"charge_ref,omitempty"`
	FailureMessage string              `json:"failure_message,omitempty"`
	Note           string              `json:"note,omitempty"`
}

type RefundAttentionQueryHandler struct {
	repo ports.OrderRepository
}

func NewRefundAttentionQueryHandler(repo ports.OrderRepository) *RefundAttentionQueryHandler {
	return &RefundAttentionQueryHandler{repo: repo}
}

func (h *RefundAttentionQueryHandler) Handle(ctx context.Context, query RefundAttentionQuery) ([]RefundAttentionItem, error) {
	status := domain.StatusRefundPending
	pageSize := query.PageSize
	if pageSize <= 0 || pageSize > maxAttentionPageSize {
		pageSize = maxAttentionPageSize
	}

	orders, err := h.repo.List(ctx, ports.ListFilter{
		Status:   &status,
		Page:     query.Page,
		PageSize: pageSize,
	})
	if err != nil {
		return nil, err
	}

	items := make([]RefundAttentionItem, 0, len(orders))
	for _, o := range orders {
		if !o.NeedsAttention() && !query.IncludeInFlight {
			continue
		}
		items = append(items, RefundAttentionItem{
			OrderID:        o.ID,
			Status:         o.Status,
			RefundStatus:   o.Refund.Status,
			Reason:         o.Refund.Reason,
			AmountMinor:    o.Refund.AmountMinor,
			Currency:       o.Pricing.Currency,
			ChargeRef:      o.PaymentRef.ChargeRef(),
			FailureMessage: o.Refund.FailureMessage,
			Note:           o.Refund.Note,
		})
	}
	return items, nil
}
