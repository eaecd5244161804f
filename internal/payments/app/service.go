package app

import (
	"context"
	"log/slog"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/commands"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/integrity"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/orderlock"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/queries"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/reservations"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/metrics"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

// Dependencies lists the adapters the payment service is built from.
type Dependencies struct {
	Orders      ports.OrderRepository
	EventLedger ports.EventLedger
	Stock       ports.StockReservationStore
	Discounts   ports.DiscountReservationStore
	Ledger      ports.PaymentLedger
	Provider    ports.PaymentProvider
	SideEffects ports.SideEffectQueue
	Events      ports.EventBus
	Idempotency ports.IdempotencyStore
	Verifier    *integrity.Verifier
	Locker      *orderlock.Locker
	AutoRefund  bool
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Service bundles the payment reconciliation use cases exposed over HTTP.
type Service struct {
	idemStore       ports.IdempotencyStore
	reconcile       commands.ReconcileHandler
	compensator     *commands.Compensator
	getOrder        *queries.GetOrderQueryHandler
	refundAttention *queries.RefundAttentionQueryHandler
}

// NewService wires required dependencies.
func NewService(deps Dependencies) *Service {
	stock := reservations.NewStockConfirmer(deps.Stock, deps.Logger)
	discounts := reservations.NewDiscountConsumer(deps.Discounts, deps.Logger)

	compensator := commands.NewCompensator(
		deps.Orders, stock, discounts, deps.Provider, deps.Ledger, deps.Events, deps.AutoRefund, deps.Logger,
	).WithMetrics(deps.Metrics)

	core := commands.NewReconcilePaymentCommandHandler(commands.ReconcileDeps{
		Verifier:    deps.Verifier,
		EventLedger: deps.EventLedger,
		Orders:      deps.Orders,
		Locker:      deps.Locker,
		Stock:       stock,
		Discounts:   discounts,
		Ledger:      deps.Ledger,
		Provider:    deps.Provider,
		Compensator: compensator,
		SideEffects: deps.SideEffects,
		Events:      deps.Events,
		Logger:      deps.Logger,
	})

	return &Service{
		idemStore:       deps.Idempotency,
		reconcile:       commands.NewObservableReconcileHandler(core, deps.Logger, deps.Metrics),
		compensator:     compensator,
		getOrder:        queries.NewGetOrderQueryHandler(deps.Orders),
		refundAttention: queries.NewRefundAttentionQueryHandler(deps.Orders),
	}
}

// ReconcileNotification processes one raw provider notification.
func (s *Service) ReconcileNotification(ctx context.Context, payload []byte, signature string) (*commands.ReconcileResult, error) {
	return s.reconcile.Handle(ctx, commands.ReconcilePaymentCommand{
		Payload:   payload,
		Signature: signature,
	})
}

// GetOrder retrieves an order by ID.
func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.getOrder.Handle(ctx, queries.GetOrderQuery{OrderID: id})
}

// ListRefundAttention returns refund_pending orders operators need to look at.
func (s *Service) ListRefundAttention(ctx context.Context, query queries.RefundAttentionQuery) ([]queries.RefundAttentionItem, error) {
	return s.refundAttention.Handle(ctx, query)
}

// RetryRefund re-issues a failed refund for an operator.
func (s *Service) RetryRefund(ctx context.Context, orderID, idempotencyKey, note string) (*domain.Order, error) {
	res, err := s.compensator.RetryRefund(ctx, orderID, idempotencyKey, note)
	if err != nil {
		return nil, err
	}
	return res.Order, nil
}

// SaveIdempotentResponse writes response details for a key.
func (s *Service) SaveIdempotentResponse(ctx context.Context, key string, response ports.StoredResponse) error {
	return s.idemStore.Save(ctx, key, response)
}

// GetIdempotentResponse retrieves previously stored response data.
func (s *Service) GetIdempotentResponse(ctx context.Context, key string) (*ports.StoredResponse, error) {
	return s.idemStore.Get(ctx, key)
}
