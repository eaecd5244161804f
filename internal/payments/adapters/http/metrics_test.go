package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Failed to collect metrics: %v", err)
	}
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestRecordHTTPRequest(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}

	ctx := context.Background()
	metrics.RequestStarted(ctx)
	metrics.RecordRequest(ctx, "POST", "/v1/payments/webhook", 200, 0.05)
	metrics.RequestStarted(ctx)
	metrics.RecordRequest(ctx, "GET", "/v1/orders/{id}", 404, 0.01)

	got := collect(t, reader)

	total, ok := got["http_requests_total"].Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("http_requests_total not recorded as Sum[int64]")
	}
	if len(total.DataPoints) != 2 {
		t.Errorf("Expected 2 data points, got %d", len(total.DataPoints))
	}

	hist, ok := got["http_request_duration_seconds"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("http_request_duration_seconds not recorded as Histogram[float64]")
	}
	if len(hist.DataPoints) != 2 {
		t.Errorf("Expected 2 data points, got %d", len(hist.DataPoints))
	}

	inFlight, ok := got["http_requests_in_flight"].Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("http_requests_in_flight not recorded as Sum[int64]")
	}
	if len(inFlight.DataPoints) != 1 || inFlight.DataPoints[0].Value != 0 {
		t.Errorf("Expected in-flight gauge back at 0, got %+v", inFlight.DataPoints)
	}
}

func TestWithMetricsLabelsRoutePattern(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}

	router := chi.NewRouter()
	router.Use(WithMetrics(metrics))
	router.Get("/v1/orders/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b", "c"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/orders/"+id, nil))
	}

	total := collect(t, reader)["http_requests_total"].Data.(metricdata.Sum[int64])
	if len(total.DataPoints) != 1 {
		t.Fatalf("Expected one series for the route pattern, got %d", len(total.DataPoints))
	}
	dp := total.DataPoints[0]
	if dp.Value != 3 {
		t.Errorf("Expected 3 requests, got %d", dp.Value)
	}
	if route, _ := dp.Attributes.Value("route"); route.AsString() != "/v1/orders/{id}" {
		t.Errorf("Expected route label /v1/orders/{id}, got %q", route.AsString())
	}
	if status, _ := dp.Attributes.Value("status_code"); status.AsInt64() != http.StatusTeapot {
		t.Errorf("Expected status_code 418, got %d", status.AsInt64())
	}
}
