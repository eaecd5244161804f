package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

const orderColumns = `
	id, user_id, status, items, currency,
	subtotal_minor, shipping_minor, discount_minor, total_minor, total::text,
	discount_code, discount_amount_minor,
	session_id, payment_intent_id, charge_id, receipt_ref,
	refund_status, refund_reason, refund_amount_minor, provider_refund_id,
	refund_idempotency_key, refund_failure_message, refund_note, refunded_at,
	webhook_lock_id, webhook_locked_at, webhook_processed_at,
	created_at, updated_at`

// OrderRepository implements ports.OrderRepository with guarded UPDATE statements.
type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts an order as checkout would create it.
func (r *OrderRepository) Create(ctx context.Context, order domain.Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("encode order items: %w", err)
	}

	var discountCode *string
	var discountAmount int64
	if order.Discount != nil {
		discountCode = &order.Discount.Code
		discountAmount = order.Discount.AmountMinor
	}

	query := `
		INSERT INTO orders (
			id, user_id, status, items, currency,
			subtotal_minor, shipping_minor, discount_minor, total_minor, total,
			discount_code, discount_amount_minor, session_id, payment_intent_id,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11, $12, $13, $14, $15, $16)
	`

	_, err = r.pool.Exec(ctx, query,
		order.ID,
		order.UserID,
		order.Status,
		items,
		order.Pricing.Currency,
		order.Pricing.SubtotalMinor,
		order.Pricing.ShippingMinor,
		order.Pricing.DiscountMinor,
		order.Pricing.TotalMinor,
		order.Pricing.Total.String(),
		discountCode,
		discountAmount,
		order.PaymentRef.SessionID,
		order.PaymentRef.PaymentIntentID,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	order, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}
	return order, nil
}

func (r *OrderRepository) GetBySessionID(ctx context.Context, sessionID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE session_id = $1`
	order, err := scanOrder(r.pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		return nil, fmt.Errorf("select order by session: %w", err)
	}
	return order, nil
}

func (r *OrderRepository) List(ctx context.Context, filter ports.ListFilter) ([]domain.Order, error) {
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`

	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	rows, err := r.pool.Query(ctx, query, status, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

func (r *OrderRepository) AcquireWebhookLock(ctx context.Context, req ports.LockRequest) (bool, error) {
	query := `
		UPDATE orders
		SET webhook_lock_id = $3, webhook_locked_at = $4
		WHERE id = $1
		  AND session_id = $2
		  AND status IN ($6, $7)
		  AND webhook_processed_at IS NULL
		  AND (webhook_lock_id IS NULL OR webhook_locked_at < $5)
	`

	tag, err := r.pool.Exec(ctx, query,
		req.OrderID,
		req.SessionRef,
		req.LeaseID,
		req.Now,
		req.StaleBefore,
		domain.StatusPendingPayment,
		domain.StatusPaid,
	)
	if err != nil {
		return false, fmt.Errorf("acquire webhook lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OrderRepository) ReleaseWebhookLock(ctx context.Context, orderID, leaseID string) (bool, error) {
	query := `
		UPDATE orders
		SET webhook_lock_id = NULL, webhook_locked_at = NULL
		WHERE id = $1 AND webhook_lock_id = $2
	`

	tag, err := r.pool.Exec(ctx, query, orderID, leaseID)
	if err != nil {
		return false, fmt.Errorf("release webhook lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OrderRepository) RecordPaymentRef(ctx context.Context, orderID string, ref domain.PaymentRef) error {
	query := `
		UPDATE orders
		SET payment_intent_id = COALESCE(NULLIF($2, ''), payment_intent_id),
		    charge_id = COALESCE(NULLIF($3, ''), charge_id),
		    receipt_ref = COALESCE(NULLIF($4, ''), receipt_ref),
		    updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, orderID, ref.PaymentIntentID, ref.ChargeID, ref.ReceiptRef)
	if err != nil {
		return fmt.Errorf("record payment ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepository) Transition(ctx context.Context, t ports.StatusTransition) (bool, error) {
	query := `
		UPDATE orders
		SET status = $3,
		    updated_at = $4,
		    webhook_processed_at = CASE WHEN $5::boolean THEN $4 ELSE webhook_processed_at END
		WHERE id = $1
		  AND status = $2
		  AND ($6::text = '' OR webhook_lock_id = $6)
	`

	tag, err := r.pool.Exec(ctx, query, t.OrderID, t.From, t.To, t.At, t.MarkProcessed, t.LeaseID)
	if err != nil {
		return false, fmt.Errorf("transition order: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.ensureExists(ctx, t.OrderID)
}

func (r *OrderRepository) MarkRefundPending(ctx context.Context, orderID string, refund domain.Refund) (bool, error) {
	query := `
		UPDATE orders
		SET status = $2,
		    refund_status = $3,
		    refund_reason = $4,
		    refund_amount_minor = $5,
		    refund_note = $6,
		    refund_failure_message = '',
		    refund_idempotency_key = COALESCE(NULLIF($7, ''), refund_idempotency_key),
		    webhook_processed_at = COALESCE(webhook_processed_at, NOW()),
		    updated_at = NOW()
		WHERE id = $1
		  AND status = ANY($8)
		  AND refund_status <> $9
	`

	tag, err := r.pool.Exec(ctx, query,
		orderID,
		domain.StatusRefundPending,
		domain.RefundPending,
		refund.Reason,
		refund.AmountMinor,
		refund.Note,
		refund.IdempotencyKey,
		statusNames(domain.SourcesFor(domain.StatusRefundPending)),
		domain.RefundSucceeded,
	)
	if err != nil {
		return false, fmt.Errorf("mark refund pending: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.ensureExists(ctx, orderID)
}

func (r *OrderRepository) CompleteRefund(ctx context.Context, orderID, providerRefundID string, refundedAt time.Time) (bool, error) {
	query := `
		UPDATE orders
		SET status = $2,
		    refund_status = $3,
		    provider_refund_id = $4,
		    refund_failure_message = '',
		    refunded_at = $5,
		    updated_at = $5
		WHERE id = $1 AND status = $6
	`

	tag, err := r.pool.Exec(ctx, query,
		orderID,
		domain.StatusRefunded,
		domain.RefundSucceeded,
		providerRefundID,
		refundedAt,
		domain.StatusRefundPending,
	)
	if err != nil {
		return false, fmt.Errorf("complete refund: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.ensureExists(ctx, orderID)
}

func (r *OrderRepository) FailRefund(ctx context.Context, orderID, message string) (bool, error) {
	query := `
		UPDATE orders
		SET refund_status = $2, refund_failure_message = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`

	tag, err := r.pool.Exec(ctx, query, orderID, domain.RefundFailed, message, domain.StatusRefundPending)
	if err != nil {
		return false, fmt.Errorf("fail refund: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.ensureExists(ctx, orderID)
}

// ensureExists separates a guard miss from a missing row.
func (r *OrderRepository) ensureExists(ctx context.Context, orderID string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return fmt.Errorf("check order exists: %w", err)
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		order          domain.Order
		items          []byte
		total          string
		discountCode   *string
		discountAmount int64
		lockID         *string
		lockedAt       *time.Time
	)

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.Status,
		&items,
		&order.Pricing.Currency,
		&order.Pricing.SubtotalMinor,
		&order.Pricing.ShippingMinor,
		&order.Pricing.DiscountMinor,
		&order.Pricing.TotalMinor,
		&total,
		&discountCode,
		&discountAmount,
		&order.PaymentRef.SessionID,
		&order.PaymentRef.PaymentIntentID,
		&order.PaymentRef.ChargeID,
		&order.PaymentRef.ReceiptRef,
		&order.Refund.Status,
		&order.Refund.Reason,
		&order.Refund.AmountMinor,
		&order.Refund.ProviderRefundID,
		&order.Refund.IdempotencyKey,
		&order.Refund.FailureMessage,
		&order.Refund.Note,
		&order.Refund.RefundedAt,
		&lockID,
		&lockedAt,
		&order.WebhookProcessedAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}
	if order.Pricing.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("decode order total: %w", err)
	}
	if discountCode != nil {
		order.Discount = &domain.Discount{Code: *discountCode, AmountMinor: discountAmount}
	}
	if lockID != nil && lockedAt != nil {
		order.WebhookLock = &domain.Lease{ID: *lockID, LockedAt: *lockedAt}
	}
	return &order, nil
}

func statusNames(statuses []domain.OrderStatus) []string {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return names
}
