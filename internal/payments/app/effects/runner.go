// Package effects runs the best-effort work that follows an order confirmation.
package effects

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

// Runner executes the side effects of one confirmed order. Every effect is idempotent,
// so a task may be retried as a whole.
type Runner struct {
	orders   ports.OrderRepository
	carts    ports.CartService
	ranking  ports.RankingService
	invoices *InvoiceIssuer
	logger   *slog.Logger
}

func NewRunner(
	orders ports.OrderRepository,
	carts ports.CartService,
	ranking ports.RankingService,
	invoices *InvoiceIssuer,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		orders:   orders,
		carts:    carts,
		ranking:  ranking,
		invoices: invoices,
		logger:   logger,
	}
}

// Run applies cart cleanup, ranking and invoicing concurrently and joins their errors.
func (r *Runner) Run(ctx context.Context, task ports.ConfirmedOrderTask) error {
	order, err := r.orders.GetByID(ctx, task.OrderID)
	if err != nil {
		return fmt.Errorf("load confirmed order: %w", err)
	}
	if order.Status != domain.StatusConfirmed {
		r.logger.WarnContext(ctx, "skipping side effects for order that is not confirmed",
			"order_id", order.ID,
			"status", order.Status,
		)
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	collect := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	g.Go(func() error {
		if err := r.carts.RemovePurchasedItems(ctx, order.UserID, order.Items); err != nil {
			collect(fmt.Errorf("remove purchased cart items: %w", err))
		}
		return nil
	})
	g.Go(func() error {
		applied, err := r.ranking.RecordSale(ctx, order.ID, order.Items)
		if err != nil {
			collect(fmt.Errorf("record sale: %w", err))
			return nil
		}
		if !applied {
			r.logger.DebugContext(ctx, "sale already counted", "order_id", order.ID)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := r.invoices.Issue(ctx, order, task.ChargeRef); err != nil {
			collect(fmt.Errorf("issue invoice: %w", err))
		}
		return nil
	})
	_ = g.Wait()

	return errors.Join(errs...)
}
