package commands_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/adapters/memory"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/commands"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/integrity"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/orderlock"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/reservations"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

const testSecret = "whsec_test"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type mockProvider struct {
	mu              sync.Mutex
	refundCalls     []ports.RefundRequest
	createRefundFn  func(req ports.RefundRequest) (*ports.RefundResult, error)
	retrieveSession func(id string) (*ports.PaymentSession, error)
}

func (m *mockProvider) RetrieveSession(_ context.Context, id string) (*ports.PaymentSession, error) {
	if m.retrieveSession != nil {
		return m.retrieveSession(id)
	}
	return nil, ports.ErrProviderNotFound
}

func (m *mockProvider) CreateRefund(_ context.Context, req ports.RefundRequest) (*ports.RefundResult, error) {
	m.mu.Lock()
	m.refundCalls = append(m.refundCalls, req)
	m.mu.Unlock()
	if m.createRefundFn != nil {
		return m.createRefundFn(req)
	}
	return &ports.RefundResult{ID: "re_" + req.ChargeRef, Status: "succeeded"}, nil
}

func (m *mockProvider) calls() []ports.RefundRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.RefundRequest(nil), m.refundCalls...)
}

type recordingBus struct {
	mu        sync.Mutex
	confirmed []string
	cancelled []string
	refunds   []domain.RefundStatus
}

func (b *recordingBus) PublishOrderConfirmed(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmed = append(b.confirmed, orderID)
	return nil
}

func (b *recordingBus) PublishOrderCancelled(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, orderID)
	return nil
}

func (b *recordingBus) PublishRefundUpdated(_ context.Context, _ string, status domain.RefundStatus, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refunds = append(b.refunds, status)
	return nil
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []ports.ConfirmedOrderTask
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, task ports.ConfirmedOrderTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

type harness struct {
	orders    *memory.OrderRepository
	events    *memory.EventLedger
	stock     *memory.StockReservations
	discounts *memory.DiscountReservations
	ledger    *memory.PaymentLedger
	provider  *mockProvider
	bus       *recordingBus
	queue     *recordingQueue

	compensator *commands.Compensator
	handler     *commands.ReconcilePaymentCommandHandler
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	autoRefund bool
	wrapOrders func(*memory.OrderRepository) ports.OrderRepository
	wrapStock  func(*memory.StockReservations) ports.StockReservationStore
}

func withoutAutoRefund() harnessOption {
	return func(c *harnessConfig) { c.autoRefund = false }
}

// withOrders swaps the repository the reconcile handler reads and writes through.
func withOrders(wrap func(*memory.OrderRepository) ports.OrderRepository) harnessOption {
	return func(c *harnessConfig) { c.wrapOrders = wrap }
}

func withStock(wrap func(*memory.StockReservations) ports.StockReservationStore) harnessOption {
	return func(c *harnessConfig) { c.wrapStock = wrap }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{autoRefund: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return testNow }

	h := &harness{
		orders:    memory.NewOrderRepository(),
		events:    memory.NewEventLedger(),
		stock:     memory.NewStockReservations(),
		discounts: memory.NewDiscountReservations(),
		ledger:    memory.NewPaymentLedger(),
		provider:  &mockProvider{},
		bus:       &recordingBus{},
		queue:     &recordingQueue{},
	}

	var orders ports.OrderRepository = h.orders
	if cfg.wrapOrders != nil {
		orders = cfg.wrapOrders(h.orders)
	}
	var stockStore ports.StockReservationStore = h.stock
	if cfg.wrapStock != nil {
		stockStore = cfg.wrapStock(h.stock)
	}

	stock := reservations.NewStockConfirmer(stockStore, logger)
	discounts := reservations.NewDiscountConsumer(h.discounts, logger)
	h.compensator = commands.NewCompensator(h.orders, stock, discounts, h.provider, h.ledger, h.bus, cfg.autoRefund, logger).
		WithClock(clock)

	h.handler = commands.NewReconcilePaymentCommandHandler(commands.ReconcileDeps{
		Verifier:    integrity.NewVerifier(testSecret, integrity.DefaultTolerance),
		EventLedger: h.events,
		Orders:      orders,
		Locker:      orderlock.NewLocker(h.orders, orderlock.DefaultStaleAfter, logger).WithClock(clock),
		Stock:       stock,
		Discounts:   discounts,
		Ledger:      h.ledger,
		Provider:    h.provider,
		Compensator: h.compensator,
		SideEffects: h.queue,
		Events:      h.bus,
		Logger:      logger,
	}).WithClock(clock)

	return h
}

// seedOrder stores a pending ILS order of 100.00 with one held reservation of qty 2.
func (h *harness) seedOrder(id string, withDiscount bool) domain.Order {
	order := domain.Order{
		ID:     id,
		UserID: "user_1",
		Status: domain.StatusPendingPayment,
		Items:  []domain.LineItem{{ProductID: "prod_1", Quantity: 2}},
		Pricing: domain.Pricing{
			Currency:      "ils",
			SubtotalMinor: 10000,
			TotalMinor:    10000,
			Total:         decimal.RequireFromString("100.00"),
		},
		PaymentRef: domain.PaymentRef{SessionID: "cs_" + id},
		CreatedAt:  testNow.Add(-time.Minute),
		UpdatedAt:  testNow.Add(-time.Minute),
	}
	if withDiscount {
		order.Pricing.SubtotalMinor = 11000
		order.Pricing.DiscountMinor = 1000
		order.Discount = &domain.Discount{Code: "SAVE10", AmountMinor: 1000}
		h.discounts.Put(domain.DiscountReservation{Code: "SAVE10", OrderID: id, Status: domain.DiscountReserved})
	}
	h.orders.Put(order)
	h.stock.SetAvailable("prod_1", "", 10)
	h.stock.Put(domain.StockReservation{
		ID:        "res_" + id,
		OrderID:   id,
		ProductID: "prod_1",
		Quantity:  2,
		ExpiresAt: testNow.Add(15 * time.Minute),
		Status:    domain.ReservationHeld,
	})
	return order
}

type notificationFixture struct {
	eventID       string
	eventType     string
	orderID       string
	sessionID     string
	paymentStatus string
	amount        int64
	currency      string
	intent        string
}

func (n notificationFixture) payload(t *testing.T) []byte {
	t.Helper()
	object := map[string]any{
		"id":             n.sessionID,
		"payment_status": n.paymentStatus,
		"amount_total":   n.amount,
		"currency":       n.currency,
		"metadata":       map[string]string{"orderId": n.orderID},
	}
	if n.intent != "" {
		object["payment_intent"] = n.intent
	}
	body, err := json.Marshal(map[string]any{
		"id":   n.eventID,
		"type": n.eventType,
		"data": map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal notification: %v", err)
	}
	return body
}

func completed(eventID, orderID string, amount int64) notificationFixture {
	return notificationFixture{
		eventID:       eventID,
		eventType:     domain.EventCheckoutCompleted,
		orderID:       orderID,
		sessionID:     "cs_" + orderID,
		paymentStatus: "paid",
		amount:        amount,
		currency:      "ils",
		intent:        "pi_" + orderID,
	}
}

func (h *harness) deliver(t *testing.T, n notificationFixture) (*commands.ReconcileResult, error) {
	t.Helper()
	body := n.payload(t)
	return h.handler.Handle(context.Background(), commands.ReconcilePaymentCommand{
		Payload:   body,
		Signature: integrity.Sign(body, testSecret, time.Now()),
	})
}

func (h *harness) order(t *testing.T, id string) *domain.Order {
	t.Helper()
	order, err := h.orders.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load order %s: %v", id, err)
	}
	return order
}

var errProviderDown = errors.New("provider unavailable")

// failingOrders fails selected repository calls and delegates the rest.
type failingOrders struct {
	*memory.OrderRepository
	bySessionErr  error
	paymentRefErr error
}

func (f *failingOrders) GetBySessionID(ctx context.Context, sessionID string) (*domain.Order, error) {
	if f.bySessionErr != nil {
		return nil, f.bySessionErr
	}
	return f.OrderRepository.GetBySessionID(ctx, sessionID)
}

func (f *failingOrders) RecordPaymentRef(ctx context.Context, orderID string, ref domain.PaymentRef) error {
	if f.paymentRefErr != nil {
		return f.paymentRefErr
	}
	return f.OrderRepository.RecordPaymentRef(ctx, orderID, ref)
}

// flakyStock fails ConfirmHold for one reservation until failures runs out.
type flakyStock struct {
	*memory.StockReservations
	mu       sync.Mutex
	failID   string
	failures int
}

func (f *flakyStock) ConfirmHold(ctx context.Context, reservationID string, now time.Time) (bool, error) {
	f.mu.Lock()
	fail := reservationID == f.failID && f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return false, errors.New("connection reset by peer")
	}
	return f.StockReservations.ConfirmHold(ctx, reservationID, now)
}
