//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/mahmoodamara/barber-bang-sub001/internal/database/dbtest"
	"github.com/mahmoodamara/barber-bang-sub001/internal/idempotency/postgres"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

func TestStoreSaveAndGet(t *testing.T) {
	pool := dbtest.NewPool(t)
	store := postgres.NewStore(pool, time.Hour)
	ctx := context.Background()

	key := "refund-retry:ord_1:op-1"
	response := ports.StoredResponse{
		StatusCode: 200,
		Body:       []byte(`{"order":{"id":"ord_1"}}`),
		OrderID:    "ord_1",
	}

	if err := store.Save(ctx, key, response); err != nil {
		t.Fatalf("failed to save idempotency key: %v", err)
	}

	retrieved, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("failed to get idempotency key: %v", err)
	}
	if retrieved == nil {
		t.Fatal("expected response, got nil")
	}
	if retrieved.StatusCode != response.StatusCode || string(retrieved.Body) != string(response.Body) || retrieved.OrderID != response.OrderID {
		t.Errorf("expected %+v, got %+v", response, retrieved)
	}

	missing, err := store.Get(ctx, "nonexistent-key")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil response, got %v", missing)
	}
}

func TestStoreSave_Conflict(t *testing.T) {
	pool := dbtest.NewPool(t)
	store := postgres.NewStore(pool, time.Hour)
	ctx := context.Background()

	key := "refund-retry:ord_1:op-conflict"
	first := ports.StoredResponse{StatusCode: 200, Body: []byte(`{}`), OrderID: "ord_1"}
	second := ports.StoredResponse{StatusCode: 409, Body: []byte(`{}`), OrderID: "ord_2"}

	if err := store.Save(ctx, key, first); err != nil {
		t.Fatalf("failed to save first response: %v", err)
	}
	if err := store.Save(ctx, key, second); err != nil {
		t.Fatalf("failed to save second response (conflict): %v", err)
	}

	retrieved, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("failed to get response: %v", err)
	}
	if retrieved.OrderID != first.OrderID {
		t.Errorf("expected first response to be preserved, got order ID %s", retrieved.OrderID)
	}
}

func TestStoreExpiredKeyIsReplaced(t *testing.T) {
	pool := dbtest.NewPool(t)
	store := postgres.NewStore(pool, time.Hour)
	ctx := context.Background()

	key := "refund-retry:ord_1:op-expired"
	if _, err := pool.Exec(ctx,
		`INSERT INTO idempotency_keys (key, status_code, body, order_id, created_at) VALUES ($1, 200, '{}', 'ord_old', NOW() - INTERVAL '2 hours')`,
		key,
	); err != nil {
		t.Fatalf("seed expired key: %v", err)
	}

	if got, _ := store.Get(ctx, key); got != nil {
		t.Fatalf("expected expired key to be hidden, got %+v", got)
	}

	if err := store.Save(ctx, key, ports.StoredResponse{StatusCode: 200, Body: []byte(`{}`), OrderID: "ord_new"}); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	got, err := store.Get(ctx, key)
	if err != nil || got == nil || got.OrderID != "ord_new" {
		t.Errorf("expected replaced response, got %+v, %v", got, err)
	}
}
