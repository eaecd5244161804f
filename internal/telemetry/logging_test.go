package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)

	logger.Info("dropped")
	logger.Warn("kept")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["msg"] != "kept" {
		t.Fatalf("unexpected log lines %v", lines)
	}
}

func TestLoggerAddsTraceIDs(t *testing.T) {
	setupTracerProvider(t)
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	ctx, span := StartSpan(context.Background(), "op")
	logger.InfoContext(ctx, "inside span")
	span.End()
	logger.InfoContext(context.Background(), "outside span")

	lines := decodeLines(t, &buf)
	traceID, spanID := spanIDs(ctx)
	if lines[0]["trace_id"] != traceID || lines[0]["span_id"] != spanID {
		t.Errorf("expected trace ids on %v", lines[0])
	}
	if _, ok := lines[1]["trace_id"]; ok {
		t.Errorf("unexpected trace_id on %v", lines[1])
	}
}

func TestLoggerContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	ctx := WithLogAttrs(context.Background(), "event_id", "evt_1")
	ctx = WithLogAttrs(ctx, "order_id", "ord_1")
	logger.InfoContext(ctx, "confirmed", "outcome", "processed")

	line := decodeLines(t, &buf)[0]
	for key, want := range map[string]string{"event_id": "evt_1", "order_id": "ord_1", "outcome": "processed"} {
		if line[key] != want {
			t.Errorf("%s = %v, want %q", key, line[key], want)
		}
	}
}

func TestLoggerAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo).With("component", "webhook").WithGroup("http")

	ctx := WithLogAttrs(context.Background(), "event_id", "evt_1")
	logger.InfoContext(ctx, "request", "method", "POST", "status", 200)

	line := decodeLines(t, &buf)[0]
	if line["component"] != "webhook" || line["event_id"] != "evt_1" {
		t.Errorf("top-level attrs missing: %v", line)
	}
	group, ok := line["http"].(map[string]any)
	if !ok {
		t.Fatalf("expected http group, got %v", line)
	}
	if group["method"] != "POST" || group["status"] != float64(200) {
		t.Errorf("unexpected group %v", group)
	}
}
