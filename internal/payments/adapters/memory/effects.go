package memory

import (
	"context"
	"sync"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
)

// Carts holds active cart lines per user.
type Carts struct {
	mu    sync.Mutex
	lines map[string][]domain.LineItem
}

// NewCarts creates empty carts.
func NewCarts() *Carts {
	return &Carts{lines: make(map[string][]domain.LineItem)}
}

// Add appends a line to the user's cart.
func (c *Carts) Add(userID string, item domain.LineItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines[userID] = append(c.lines[userID], item)
}

// Lines returns a copy of the user's cart.
func (c *Carts) Lines(userID string) []domain.LineItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.LineItem(nil), c.lines[userID]...)
}

// RemovePurchasedItems drops lines matching both product and variant.
func (c *Carts) RemovePurchasedItems(_ context.Context, userID string, items []domain.LineItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	purchased := make(map[string]struct{}, len(items))
	for _, item := range items {
		purchased[stockKey(item.ProductID, item.VariantID)] = struct{}{}
	}

	kept := c.lines[userID][:0]
	for _, line := range c.lines[userID] {
		if _, ok := purchased[stockKey(line.ProductID, line.VariantID)]; ok {
			continue
		}
		kept = append(kept, line)
	}
	c.lines[userID] = kept
	return nil
}

// Ranking counts units sold per product, once per order.
type Ranking struct {
	mu      sync.Mutex
	applied map[string]struct{}
	sold    map[string]int
}

// NewRanking creates empty counters.
func NewRanking() *Ranking {
	return &Ranking{applied: make(map[string]struct{}), sold: make(map[string]int)}
}

// Sold returns the units sold for a product.
func (r *Ranking) Sold(productID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sold[productID]
}

func (r *Ranking) RecordSale(_ context.Context, orderID string, items []domain.LineItem) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.applied[orderID]; ok {
		return false, nil
	}
	r.applied[orderID] = struct{}{}
	for _, item := range items {
		r.sold[item.ProductID] += item.Quantity
	}
	return true, nil
}
