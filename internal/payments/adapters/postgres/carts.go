package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
)

// Carts removes purchased lines from the cart_items table.
type Carts struct {
	pool *pgxpool.Pool
}

func NewCarts(pool *pgxpool.Pool) *Carts {
	return &Carts{pool: pool}
}

// Add upserts a cart line.
func (c *Carts) Add(ctx context.Context, userID string, item domain.LineItem) error {
	query := `
		INSERT INTO cart_items (user_id, product_id, variant_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id, variant_id) DO UPDATE SET quantity = EXCLUDED.quantity
	`

	if _, err := c.pool.Exec(ctx, query, userID, item.ProductID, item.VariantID, item.Quantity); err != nil {
		return fmt.Errorf("upsert cart item: %w", err)
	}
	return nil
}

// Lines returns the user's cart ordered by product.
func (c *Carts) Lines(ctx context.Context, userID string) ([]domain.LineItem, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT product_id, variant_id, quantity FROM cart_items WHERE user_id = $1 ORDER BY product_id, variant_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	defer rows.Close()

	var lines []domain.LineItem
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.ProductID, &item.VariantID, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		lines = append(lines, item)
	}
	return lines, rows.Err()
}

// RemovePurchasedItems deletes lines matching both product and variant.
func (c *Carts) RemovePurchasedItems(ctx context.Context, userID string, items []domain.LineItem) error {
	if len(items) == 0 {
		return nil
	}

	products := make([]string, len(items))
	variants := make([]string, len(items))
	for i, item := range items {
		products[i] = item.ProductID
		variants[i] = item.VariantID
	}

	query := `
		DELETE FROM cart_items
		WHERE user_id = $1
		  AND (product_id, variant_id) IN (SELECT * FROM UNNEST($2::text[], $3::text[]))
	`

	if _, err := c.pool.Exec(ctx, query, userID, products, variants); err != nil {
		return fmt.Errorf("remove purchased cart items: %w", err)
	}
	return nil
}
