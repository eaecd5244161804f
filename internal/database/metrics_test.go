package database

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestInitializeMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}
	if metrics.queryDuration == nil {
		t.Error("queryDuration is nil")
	}
	if metrics.queryErrors == nil {
		t.Error("queryErrors is nil")
	}
}

func TestQueryTracerRecordsDurationAndErrors(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}

	ctx := context.Background()
	qctx := metrics.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "UPDATE orders SET status = $1"})
	metrics.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{})

	qctx = metrics.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	metrics.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{Err: pgx.ErrNoRows})

	qctx = metrics.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "INSERT INTO t VALUES (1)"})
	metrics.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Failed to collect metrics: %v", err)
	}

	var durationPoints int
	var errorTotal int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "db_query_duration_seconds":
				hist, ok := m.Data.(metricdata.Histogram[float64])
				if !ok {
					t.Fatal("Expected Histogram[float64] data type")
				}
				durationPoints = len(hist.DataPoints)
			case "db_query_errors_total":
				sum, ok := m.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatal("Expected Sum[int64] data type")
				}
				for _, dp := range sum.DataPoints {
					errorTotal += dp.Value
				}
			}
		}
	}

	if durationPoints != 3 {
		t.Errorf("expected 3 operations recorded, got %d", durationPoints)
	}
	if errorTotal != 1 {
		t.Errorf("expected 1 query error (no-rows excluded), got %d", errorTotal)
	}
}

func TestOperationOf(t *testing.T) {
	tests := []struct {
		sql  string
		want string
	}{
		{sql: "SELECT * FROM orders", want: "select"},
		{sql: "\n\t\tUPDATE orders SET x = 1", want: "update"},
		{sql: "WITH held AS (SELECT 1) UPDATE stock SET x = 1", want: "with_update"},
		{sql: "   ", want: "unknown"},
	}
	for _, tt := range tests {
		if got := operationOf(tt.sql); got != tt.want {
			t.Errorf("operationOf(%q) = %q, want %q", tt.sql, got, tt.want)
		}
	}
}
