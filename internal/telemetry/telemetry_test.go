package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func TestSnapshot_FlattensCountersAndHistograms(t *testing.T) {
	t.Parallel()

	provider := NewProvider()
	ctx := context.Background()
	meter := provider.MeterProvider().Meter("test")

	counter, err := meter.Int64Counter("storyline.test.items")
	if err != nil {
		t.Fatalf("create counter: %v", err)
	}
	histogram, err := meter.Float64Histogram("storyline.test.duration", metric.WithUnit("s"))
	if err != nil {
		t.Fatalf("create histogram: %v", err)
	}

	counter.Add(ctx, 3)
	counter.Add(ctx, 4)
	histogram.Record(ctx, 1.5, metric.WithAttributes(attribute.String("outcome", "succeeded")))
	histogram.Record(ctx, 0.5, metric.WithAttributes(attribute.String("outcome", "succeeded")))

	points, err := provider.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if len(points) != 2 || points[0].Name != "storyline.test.duration" {
		t.Fatalf("expected two points sorted by name, got %+v", points)
	}

	items, ok := Find(points, "storyline.test.items", nil)
	if !ok || items.Value != 7 {
		t.Fatalf("unexpected counter point: %+v ok=%v", items, ok)
	}
	duration, ok := Find(points, "storyline.test.duration", map[string]string{"outcome": "succeeded"})
	if !ok || duration.Count != 2 || duration.Value != 2 || duration.Unit != "s" {
		t.Fatalf("unexpected histogram point: %+v ok=%v", duration, ok)
	}
	if _, ok := Find(points, "storyline.test.duration", map[string]string{"outcome": "failed"}); ok {
		t.Fatalf("expected no failed-outcome point")
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()

	provider := NewProvider()
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
	if _, err := provider.Snapshot(context.Background()); err == nil {
		t.Fatalf("expected collect after shutdown to fail")
	}
}
