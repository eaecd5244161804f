// Package redis keeps product sales rankings in sorted sets.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
)

const (
	SoldKey          = "ranking:products:sold"
	appliedKeyPrefix = "ranking:applied:"
	// DefaultGuardTTL outlives any redelivery of a confirmed-order task.
	DefaultGuardTTL = 30 * 24 * time.Hour
)

// Ranking implements ports.RankingService. A per-order SETNX guard makes RecordSale apply once.
type Ranking struct {
	rdb      *redis.Client
	guardTTL time.Duration
}

func NewRanking(rdb *redis.Client, guardTTL time.Duration) *Ranking {
	if guardTTL <= 0 {
		guardTTL = DefaultGuardTTL
	}
	return &Ranking{rdb: rdb, guardTTL: guardTTL}
}

// RecordSale increments units sold per product. A failed increment drops the guard so a retry can apply it.
func (r *Ranking) RecordSale(ctx context.Context, orderID string, items []domain.LineItem) (bool, error) {
	guard := appliedKeyPrefix + orderID
	ok, err := r.rdb.SetNX(ctx, guard, "1", r.guardTTL).Result()
	if err != nil {
		return false, fmt.Errorf("set ranking guard: %w", err)
	}
	if !ok {
		return false, nil
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, item := range items {
			pipe.ZIncrBy(ctx, SoldKey, float64(item.Quantity), item.ProductID)
		}
		return nil
	})
	if err != nil {
		if delErr := r.rdb.Del(context.WithoutCancel(ctx), guard).Err(); delErr != nil {
			return false, fmt.Errorf("increment ranking: %w (guard cleanup: %v)", err, delErr)
		}
		return false, fmt.Errorf("increment ranking: %w", err)
	}
	return true, nil
}

// Sold returns units sold for a product.
func (r *Ranking) Sold(ctx context.Context, productID string) (int, error) {
	score, err := r.rdb.ZScore(ctx, SoldKey, productID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read ranking score: %w", err)
	}
	return int(score), nil
}

// Top returns the best selling product ids, highest first.
func (r *Ranking) Top(ctx context.Context, n int64) ([]string, error) {
	ids, err := r.rdb.ZRevRange(ctx, SoldKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read top products: %w", err)
	}
	return ids, nil
}
