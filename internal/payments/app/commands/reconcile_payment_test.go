package commands_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/adapters/memory"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/commands"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

func TestReconcileConfirmsPaidOrder(t *testing.T) {
	h := newHarness(t)
	h.seedOrder("ord_1", false)

	res, err := h.deliver(t, completed("evt_1", "ord_1", 10000))
	require.NoError(t, err)
	assert.Equal(t, commands.OutcomeProcessed, res.Outcome)
	assert.Equal(t, "ord_1", res.OrderID)

	order := h.order(t, "ord_1")
	assert.Equal(t, domain.StatusConfirmed, order.Status)
	assert.NotNil(t, order.WebhookProcessedAt)
	assert.Nil(t, order.WebhookLock, "lock must be released")
	assert.Equal(t, "pi_ord_1", order.PaymentRef.PaymentIntentID)
	assert.Equal(t, 8, h.stock.Available("prod_1", ""))

	entries, err := h.ledger.ListByOrder(context.Background(), "ord_1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.TransactionPayment, entries[0].Type)
	assert.Equal(t, "pi_ord_1", entries[0].TransactionID)

	entry, err := h.events.Get(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, domain.EventProcessed, entry.Status)

	require.Len(t, h.queue.tasks, 1)
	assert.Equal(t, ports.ConfirmedOrderTask{OrderID: "ord_1", ChargeRef: "pi_ord_1", EventID: "evt_1"}, h.queue.tasks[0])
	assert.Equal(t, []string{"ord_1"}, h.bus.confirmed)
	assert.Empty(t, h.provider.calls())
}

func TestReconcileIsIdempotentPerEvent(t *testing.T) {
	h := newHarness(t)
	h.seedOrder("ord_1", true)

	n := completed("evt_1", "ord_1", 10000)
	for i := 0; i < 3; i++ {
		_, err := h.deliver(t, n)
		require.NoError(t, err)
	}

	res, err := h.deliver(t, n)
	require.NoError(t, err)
	assert.Equal(t, commands.OutcomeDuplicate, res.Outcome)

	assert.Equal(t, domain.StatusConfirmed, h.order(t, "ord_1").Status)
	assert.Equal(t, 8, h.stock.Available("prod_1", ""), "stock decremented exactly once")
	assert.Equal(t, 1, h.discounts.Usages(), "coupon consumed exactly once")
	assert.Len(t, h.queue.tasks, 1)

	entry, _ := h.events.Get(context.Background(), "evt_1")
	assert.Equal(t, 4, entry.Attempts)
}

func TestReconcileDifferentEventsSameOrderConfirmOnce(t *testing.T) {
	h := newHarness(t)
	h.seedOrder("ord_1", false)

	first, err := h.deliver(t, completed("evt_1", "ord_1", 10000))
	require.NoError(t, err)
	assert.Equal(t, commands.OutcomeProcessed, first.Outcome)

	async := completed("evt_2", "ord_1", 10000)
	async.eventType = domain.EventAsyncPaymentSucceeded
	second, err := h.deliver(t, async)
	require.NoError(t, err)
	assert.Equal(t, commands.OutcomeDuplicate, second.Outcome)

	entry, _ := h.events.Get(context.Background(), "evt_2")
	assert.Equal(t, domain.EventProcessed, entry.Status)
	assert.Equal(t, 8, h.stock.Available("prod_1", ""))
	assert.Len(t, h.queue.tasks, 1)
}

func TestReconcileConcurrentDeliveriesConfirmOnce(t *testing.T) {
	h := newHarness(t)
	h.seedOrder("ord_1", true)

	var wg sync.WaitGroup
	results := make(chan commands.Outcome, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n := completed("evt_"+string(rune('a'+i)), "ord_1", 10000)
			res, err := h.deliver(t, n)
			if err == nil {
				results <- res.Outcome
			}
		}(i)
	}
	wg.Wait()
	close(results)

	processed := 0
	for outcome := range results {
		if outcome == commands.OutcomeProcessed {
			processed++
		}
	}
	assert.Equal(t, 1, processed)
	assert.Equal(t, domain.StatusConfirmed, h.order(t, "ord_1").Status)
	assert.Equal(t, 8, h.stock.Available("prod_1", ""))
	assert.Equal(t, 1, h.discounts.Usages())
}

func TestReconcileAmountTamperRefundsAsFraud(t *testing.T) {
	h := newHarness(t)
	h.seedOrder("ord_1", false)

	res, err := h.deliver(t, completed("evt_1", "ord_1", 9000))
	require.NoError(t, err)
	assert.Equal(t, commands.OutcomeCompensated, res.Outcome)
	assert.Equal(t, domain.ReasonFraud, res.Reason)

	order := h.order(t, "ord_1")
	assert.Equal(t, domain.StatusRefunded, order.Status)
	assert.Equal(t, domain.ReasonFraud, order.Refund.Reason)
	assert.Equal(t, domain.RefundSucceeded, order.Refund.Status)
	assert.Equal(t, int64(9000), order.Refund.AmountMinor)
	assert.Equal(t, 10, h.stock.Available("prod_1", ""), "no stock decrement")

	calls := h.provider.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, commands.RefundIdempotencyKey("ord_1", "pi_ord_1"), calls[0].IdempotencyKey)
	assert.Equal(t, "pi_ord_1", calls[0].ChargeRef)

	entries, _ := h.ledger.ListByOrder(context.Background(), "ord_1")
	require.Len(t, entries, 1)
	assert.Equal(t, domain.TransactionRefund, entries[0].Type)
	assert.Empty(t, h.queue.tasks)

	again, err := h.deliver(t, completed("evt_1", "ord_1", 9000))
	require.NoError(t, err)
	assert.Equal(t, commands.OutcomeDuplicate, again.Outcome)
	assert.Len(t, h.provider.calls(), 1)
}

func TestReconcileCurrencyMismatchIsFraud(t *testing.T) {
	h := newHarness(t)
	h.seedOrder("ord_1", false)

	n := completed("evt_1", "ord_1", 10000)
	n.currency = "usd"
	res, err := h.deliver(t, n)
	require.NoError(t, err)
	assert.Equal(t, commands.OutcomeCompensated, res.Outcome)
	assert.Equal(t, domain.ReasonFraud, h.order(t, "ord_1").Refund.Reason)
}

func TestReconcileExpiredReservationCompensates(t *testing.T) {
	h := newHarness(t)
	h.seedOrder("ord_1", false)
	h.stock.Put(domain.StockReservation{
		ID:        "res_ord_1",
		OrderID:   "ord_1",
		ProductID: "prod_1",
		Quantity:  2,
		ExpiresAt: testNow.Add(-time.Second),
		Status:    domain.ReservationHeld,
	})

	res, err := h.deliver(t, completed("evt_1", "ord_1", 10000))
	require.NoError(t, err)
	assert.Equal(t, commands.OutcomeCompensated, res.Outcome)

	order := h.order(t, "ord_1")
	assert.NotEqual(t, domain.StatusConfirmed, order.Status)
	assert.Contains(t, []domain.OrderStatus{domain.StatusRefundPending, domain.StatusRefunded}, order.Status)
	assert.Equal(t, domain.ReasonStockUnavailable, order.Refund.Reason)
	assert.Equal(t, 10, h.stock.Available("prod_1", ""))
}

func TestReconcileForeignDiscountRevertsStockAndRefunds(t *testing.T) {
	h := newHarness(t)
	h.seedOrder("ord_1", true)
	h.discounts.Put(domain.DiscountReservation{Code: "SAVE10", OrderID: "ord_1", Status: domain.DiscountReleased})

	res, err := h.deliver(t, completed("evt_1", "ord_1", 10000))
	require.NoError(t, err)
	assert.Equal(t, commands.OutcomeCompensated, res.Outcome)

	order := h.order(t, "ord_1")
	assert.Equal(t, domain.StatusRefunded, order.Status)
	assert.Equal(t, domain.ReasonDiscountInvalid, order.Refund.Reason)
	assert.Equal(t, 10, h.stock.Available("prod_1", ""), "confirmed stock restored")
}

func TestReconcileRefundFailureStillAcknowledges(t *testing.T) {
	h := newHarness(t)
	h.seedOrder("ord_1", false)
	h.provider.createRefundFn = func(ports.RefundRequest) (*ports.RefundResult, error) {
		return nil, errProviderDown
	}

	res, err := h.deliver(t, completed("evt_1", "ord_1", 9000))
	require.NoError(t, err)
	assert.Equal(t, commands.OutcomeCompensated, res.Outcome)

	order := h.order(t, "ord_1")
	assert.Equal(t, domain.StatusRefundPending, order.Status)
	assert.Equal(t, domain.RefundFailed, order.Refund.Status)
	assert.Contains(t, order.Refund.FailureMessage, "provider unavailable")
	assert.True(t, order.NeedsAttention())
}

func TestReconcileAsyncFailureCancels(t *testing.T) {
	h := newHarness(t)
	h.seedOrder("ord_1", true)

	n := completed("evt_1", "ord_1", 10000)
	n.eventType = domain.EventAsyncPaymentFailed
	n.paymentStatus = "unpaid"
	res, err := h.deliver(t, n)
	require.NoError(t, err)
	assert.Equal(t, commands.OutcomeCancelled, res.Outcome)

	assert.Equal(t, domain.StatusCancelled, h.order(t, "ord_1").Status)
	reservations, _ := h.stock.ListByOrder(context.Background(), "ord_1")
	require.Len(t, reservations, 1)
	assert.Equal(t, domain.ReservationReleased, reservations[0].Status)
	discount, _ := h.discounts.Get(context.Background(), "SAVE10", "ord_1")
	assert.Equal(t, domain.DiscountReleased, discount.Status)
	assert.Empty(t, h.provider.calls())
	assert.Equal(t, []string{"ord_1"}, h.bus.cancelled)
}

func TestReconcilePendingAsyncPaymentWaits(t *testing.T) {
	h := newHarness(t)
	h.seedOrder("ord_1", false)

	n := completed("evt_1", "ord_1", 10000)
	n.paymentStatus = "unpaid"
	res, err := h.deliver(t, n)
	require.NoError(t, err)
	assert.Equal(t, commands.OutcomeAwaitingPayment, res.Outcome)

	order := h.order(t, "ord_1")
	assert.Equal(t, domain.StatusPendingPayment, order.Status)
	assert.Equal(t, "pi_ord_1", order.PaymentRef.PaymentIntentID)
	assert.Nil(t, order.WebhookProcessedAt)

	succeeded := completed("evt_2", "ord_1", 10000)
	succeeded.eventType = domain.EventAsyncPaymentSucceeded
	res, err = h.deliver(t, succeeded)
	require.NoError(t, err)
	assert.Equal(t, commands.OutcomeProcessed, res.Outcome)
}

func TestReconcileResolvesOrderBySession(t *testing.T) {
	h := newHarness(t)
	h.seedOrder("ord_1", false)
	h.provider.retrieveSession = func(id string) (*ports.PaymentSession, error) {
		return &ports.PaymentSession{ID: id, PaymentIntentID: "pi_lookup", ChargeID: "ch_lookup"}, nil
	}

	n := completed("evt_1", "", 10000)
	n.sessionID = "cs_ord_1"
	n.intent = ""
	res, err := h.deliver(t, n)
	require.NoError(t, err)
	assert.Equal(t, commands.OutcomeProcessed, res.Outcome)
	assert.Equal(t, "ord_1", res.OrderID)
	assert.Equal(t, "pi_lookup", h.order(t, "ord_1").PaymentRef.PaymentIntentID)
}

func TestReconcileRejections(t *testing.T) {
	t.Run("bad signature leaves no trace", func(t *testing.T) {
		h := newHarness(t)
		h.seedOrder("ord_1", false)
		body := completed("evt_1", "ord_1", 10000).payload(t)

		_, err := h.handler.Handle(context.Background(), commands.ReconcilePaymentCommand{
			Payload:   body,
			Signature: "t=1,v1=deadbeef",
		})
		assert.ErrorIs(t, err, domain.ErrSignatureInvalid)

		entry, _ := h.events.Get(context.Background(), "evt_1")
		assert.Nil(t, entry)
		assert.Equal(t, domain.StatusPendingPayment, h.order(t, "ord_1").Status)
	})

	t.Run("unknown order is acknowledged", func(t *testing.T) {
		h := newHarness(t)
		res, err := h.deliver(t, completed("evt_1", "ord_missing", 10000))
		require.NoError(t, err)
		assert.Equal(t, commands.OutcomeOrderNotFound, res.Outcome)

		entry, _ := h.events.Get(context.Background(), "evt_1")
		require.NotNil(t, entry)
		assert.Equal(t, domain.EventFailed, entry.Status)
		assert.Equal(t, commands.StepResolveOrder, entry.FailureStep)
	})

	t.Run("unknown event type is ignored", func(t *testing.T) {
		h := newHarness(t)
		n := completed("evt_1", "ord_1", 10000)
		n.eventType = "customer.created"
		res, err := h.deliver(t, n)
		require.NoError(t, err)
		assert.Equal(t, commands.OutcomeIgnored, res.Outcome)
	})

	t.Run("live lock reports conflict and stays retryable", func(t *testing.T) {
		h := newHarness(t)
		h.seedOrder("ord_1", false)
		acquired, err := h.orders.AcquireWebhookLock(context.Background(), ports.LockRequest{
			OrderID:     "ord_1",
			SessionRef:  "cs_ord_1",
			LeaseID:     "peer",
			Now:         testNow.Add(-time.Minute),
			StaleBefore: testNow.Add(-time.Hour),
		})
		require.NoError(t, err)
		require.True(t, acquired)

		res, err := h.deliver(t, completed("evt_1", "ord_1", 10000))
		require.NoError(t, err)
		assert.Equal(t, commands.OutcomeLockConflict, res.Outcome)

		entry, _ := h.events.Get(context.Background(), "evt_1")
		assert.Equal(t, domain.EventReceived, entry.Status)
	})
}

func TestReconcileStoreFailureFinalizesLedger(t *testing.T) {
	t.Run("order lookup fails", func(t *testing.T) {
		storeDown := errors.New("store unavailable")
		h := newHarness(t, withOrders(func(repo *memory.OrderRepository) ports.OrderRepository {
			return &failingOrders{OrderRepository: repo, bySessionErr: storeDown}
		}))
		h.seedOrder("ord_1", false)

		n := completed("evt_1", "ord_1", 10000)
		n.orderID = ""
		_, err := h.deliver(t, n)
		require.ErrorIs(t, err, storeDown)

		entry, err := h.events.Get(context.Background(), "evt_1")
		require.NoError(t, err)
		assert.Equal(t, domain.EventFailed, entry.Status)
		assert.Equal(t, commands.StepResolveOrder, entry.FailureStep)
		assert.Equal(t, "store unavailable", entry.LastError)
	})

	t.Run("write under the lock fails", func(t *testing.T) {
		storeDown := errors.New("store unavailable")
		h := newHarness(t, withOrders(func(repo *memory.OrderRepository) ports.OrderRepository {
			return &failingOrders{OrderRepository: repo, paymentRefErr: storeDown}
		}))
		h.seedOrder("ord_1", false)

		_, err := h.deliver(t, completed("evt_1", "ord_1", 10000))
		require.ErrorIs(t, err, storeDown)

		var stepErr *commands.StepError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, commands.StepPaymentRef, stepErr.Step)

		entry, err := h.events.Get(context.Background(), "evt_1")
		require.NoError(t, err)
		assert.Equal(t, domain.EventFailed, entry.Status)
		assert.Equal(t, commands.StepPaymentRef, entry.FailureStep)
		assert.Equal(t, "store unavailable", entry.LastError)

		order := h.order(t, "ord_1")
		assert.Nil(t, order.WebhookLock, "lock must be released")
		assert.Equal(t, domain.StatusPendingPayment, order.Status)
	})
}

func TestReconcilePanicReleasesLock(t *testing.T) {
	h := newHarness(t)
	h.seedOrder("ord_1", false)
	h.provider.retrieveSession = func(string) (*ports.PaymentSession, error) {
		panic("provider client blew up")
	}

	n := completed("evt_1", "ord_1", 10000)
	n.intent = ""
	assert.Panics(t, func() { _, _ = h.deliver(t, n) })

	order := h.order(t, "ord_1")
	assert.Nil(t, order.WebhookLock, "lock must be released after a panic")

	entry, err := h.events.Get(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, domain.EventFailed, entry.Status)
	assert.Contains(t, entry.LastError, "provider client blew up")

	h.provider.retrieveSession = nil
	res, err := h.deliver(t, n)
	require.NoError(t, err)
	assert.Equal(t, commands.OutcomeProcessed, res.Outcome)
	assert.Equal(t, domain.StatusConfirmed, h.order(t, "ord_1").Status)
}

func TestReconcileTransientStockFailureRecoversOnRedelivery(t *testing.T) {
	h := newHarness(t, withStock(func(store *memory.StockReservations) ports.StockReservationStore {
		return &flakyStock{StockReservations: store, failID: "res_ord_1_2", failures: 1}
	}))
	h.seedOrder("ord_1", false)
	h.stock.SetAvailable("prod_2", "", 5)
	h.stock.Put(domain.StockReservation{
		ID:        "res_ord_1_2",
		OrderID:   "ord_1",
		ProductID: "prod_2",
		Quantity:  1,
		ExpiresAt: testNow.Add(15 * time.Minute),
		Status:    domain.ReservationHeld,
	})

	n := completed("evt_1", "ord_1", 10000)
	_, err := h.deliver(t, n)
	var stepErr *commands.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, commands.StepConfirmStock, stepErr.Step)

	for _, id := range []string{"res_ord_1", "res_ord_1_2"} {
		r, ok := h.stock.Get(id)
		require.True(t, ok)
		assert.Equal(t, domain.ReservationHeld, r.Status, id)
	}
	assert.Equal(t, 10, h.stock.Available("prod_1", ""))
	assert.Equal(t, domain.StatusPendingPayment, h.order(t, "ord_1").Status)
	assert.Nil(t, h.order(t, "ord_1").WebhookLock)

	res, err := h.deliver(t, n)
	require.NoError(t, err)
	assert.Equal(t, commands.OutcomeProcessed, res.Outcome)

	order := h.order(t, "ord_1")
	assert.Equal(t, domain.StatusConfirmed, order.Status)
	assert.Equal(t, domain.RefundNone, order.Refund.Status)
	assert.Equal(t, 8, h.stock.Available("prod_1", ""))
	assert.Equal(t, 4, h.stock.Available("prod_2", ""))
	assert.Empty(t, h.provider.calls(), "a valid payment is never refunded")
}

func TestReconcileResumesPaidOrderAfterCrash(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder("ord_1", false)

	order.Status = domain.StatusPaid
	order.PaymentRef.PaymentIntentID = "pi_ord_1"
	h.orders.Put(order)
	h.stock.SetAvailable("prod_1", "", 8)
	h.stock.Put(domain.StockReservation{
		ID:        "res_ord_1",
		OrderID:   "ord_1",
		ProductID: "prod_1",
		Quantity:  2,
		ExpiresAt: testNow.Add(-time.Minute),
		Status:    domain.ReservationConfirmed,
	})

	res, err := h.deliver(t, completed("evt_1", "ord_1", 10000))
	require.NoError(t, err)
	assert.Equal(t, commands.OutcomeProcessed, res.Outcome)

	resumed := h.order(t, "ord_1")
	assert.Equal(t, domain.StatusConfirmed, resumed.Status)
	assert.NotNil(t, resumed.WebhookProcessedAt)
	assert.Equal(t, 8, h.stock.Available("prod_1", ""), "confirmed stock is not decremented again")

	again, err := h.deliver(t, completed("evt_2", "ord_1", 10000))
	require.NoError(t, err)
	assert.Equal(t, commands.OutcomeDuplicate, again.Outcome)

	entries, err := h.ledger.ListByOrder(context.Background(), "ord_1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.TransactionPayment, entries[0].Type)
	assert.Empty(t, h.provider.calls())
	assert.Len(t, h.queue.tasks, 1)
}
