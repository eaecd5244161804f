package effects_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/adapters/memory"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/effects"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func confirmedOrder() domain.Order {
	return domain.Order{
		ID:     "ord_1",
		UserID: "user_1",
		Status: domain.StatusConfirmed,
		Items: []domain.LineItem{
			{ProductID: "prod_1", Quantity: 2},
			{ProductID: "prod_2", VariantID: "red", Quantity: 1},
		},
		Pricing: domain.Pricing{Currency: "ils", TotalMinor: 10000},
	}
}

type failingCarts struct{ err error }

func (f failingCarts) RemovePurchasedItems(context.Context, string, []domain.LineItem) error {
	return f.err
}

func TestRunnerAppliesEffectsOnce(t *testing.T) {
	orders := memory.NewOrderRepository()
	orders.Put(confirmedOrder())
	carts := memory.NewCarts()
	carts.Add("user_1", domain.LineItem{ProductID: "prod_1", Quantity: 2})
	carts.Add("user_1", domain.LineItem{ProductID: "prod_3", Quantity: 1})
	ranking := memory.NewRanking()
	invoices := memory.NewInvoiceStore()

	runner := effects.NewRunner(orders, carts, ranking,
		effects.NewInvoiceIssuer(invoices, 0, newLogger()), newLogger())
	task := ports.ConfirmedOrderTask{OrderID: "ord_1", ChargeRef: "pi_1"}

	for i := 0; i < 3; i++ {
		require.NoError(t, runner.Run(context.Background(), task))
	}

	assert.Equal(t, []domain.LineItem{{ProductID: "prod_3", Quantity: 1}}, carts.Lines("user_1"))
	assert.Equal(t, 2, ranking.Sold("prod_1"))
	assert.Equal(t, 1, ranking.Sold("prod_2"))

	invoice, err := invoices.GetByKey(context.Background(), effects.InvoiceKey("ord_1", "pi_1"))
	require.NoError(t, err)
	require.NotNil(t, invoice)
	assert.Equal(t, int64(10000), invoice.AmountMinor)
	assert.Regexp(t, `^INV-\d{8}-[0-9A-F]{8}$`, invoice.Number)
}

func TestRunnerJoinsErrorsAndStillRunsOthers(t *testing.T) {
	orders := memory.NewOrderRepository()
	orders.Put(confirmedOrder())
	ranking := memory.NewRanking()
	invoices := memory.NewInvoiceStore()
	cartErr := errors.New("cart service down")

	runner := effects.NewRunner(orders, failingCarts{err: cartErr}, ranking,
		effects.NewInvoiceIssuer(invoices, 0, newLogger()), newLogger())

	err := runner.Run(context.Background(), ports.ConfirmedOrderTask{OrderID: "ord_1", ChargeRef: "pi_1"})
	assert.ErrorIs(t, err, cartErr)
	assert.Equal(t, 2, ranking.Sold("prod_1"))

	invoice, _ := invoices.GetByKey(context.Background(), effects.InvoiceKey("ord_1", "pi_1"))
	assert.NotNil(t, invoice)
}

func TestRunnerSkipsUnconfirmedOrder(t *testing.T) {
	orders := memory.NewOrderRepository()
	order := confirmedOrder()
	order.Status = domain.StatusRefunded
	orders.Put(order)
	ranking := memory.NewRanking()

	runner := effects.NewRunner(orders, memory.NewCarts(), ranking,
		effects.NewInvoiceIssuer(memory.NewInvoiceStore(), 0, newLogger()), newLogger())

	require.NoError(t, runner.Run(context.Background(), ports.ConfirmedOrderTask{OrderID: "ord_1"}))
	assert.Equal(t, 0, ranking.Sold("prod_1"))
}

func TestInvoiceIssuerRespectsLiveLock(t *testing.T) {
	store := memory.NewInvoiceStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	key := effects.InvoiceKey("ord_1", "pi_1")
	order := confirmedOrder()

	acquired, err := store.AcquireIssueLock(context.Background(), key, "ord_1", "peer", now.Add(-30*time.Second), now.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, acquired)

	issuer := effects.NewInvoiceIssuer(store, time.Minute, newLogger()).WithClock(func() time.Time { return now })
	_, err = issuer.Issue(context.Background(), &order, "pi_1")
	assert.ErrorIs(t, err, effects.ErrIssueInProgress)

	later := effects.NewInvoiceIssuer(store, time.Minute, newLogger()).
		WithClock(func() time.Time { return now.Add(2 * time.Minute) })
	invoice, err := later.Issue(context.Background(), &order, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, key, invoice.IdempotencyKey)
}

type flakyRunner struct {
	failures int32
	calls    atomic.Int32
	done     chan ports.ConfirmedOrderTask
}

func (f *flakyRunner) Run(_ context.Context, task ports.ConfirmedOrderTask) error {
	n := f.calls.Add(1)
	if n <= f.failures {
		return errors.New("transient")
	}
	f.done <- task
	return nil
}

func TestWorkerPoolRetriesUntilSuccess(t *testing.T) {
	runner := &flakyRunner{failures: 2, done: make(chan ports.ConfirmedOrderTask, 1)}
	pool := effects.NewWorkerPool(runner, 2, 4, effects.RetryPolicy{
		MaxRetries:      5,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}, newLogger(), nil)

	require.NoError(t, pool.Enqueue(context.Background(), ports.ConfirmedOrderTask{OrderID: "ord_1"}))

	select {
	case task := <-runner.done:
		assert.Equal(t, "ord_1", task.OrderID)
		assert.Equal(t, 3, task.Attempt)
	case <-time.After(5 * time.Second):
		t.Fatal("task was not processed")
	}

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.ErrorIs(t, pool.Enqueue(context.Background(), ports.ConfirmedOrderTask{OrderID: "ord_2"}), effects.ErrQueueClosed)
}

type blockingRunner struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (b *blockingRunner) Run(ctx context.Context, _ ports.ConfirmedOrderTask) error {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func TestWorkerPoolReportsFullBuffer(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	pool := effects.NewWorkerPool(runner, 1, 1, effects.DefaultRetryPolicy, newLogger(), nil)
	ctx := context.Background()

	require.NoError(t, pool.Enqueue(ctx, ports.ConfirmedOrderTask{OrderID: "ord_1"}))
	<-runner.started
	require.NoError(t, pool.Enqueue(ctx, ports.ConfirmedOrderTask{OrderID: "ord_2"}))
	assert.ErrorIs(t, pool.Enqueue(ctx, ports.ConfirmedOrderTask{OrderID: "ord_3"}), effects.ErrQueueFull)

	close(runner.release)
	require.NoError(t, pool.Shutdown(ctx))
}
