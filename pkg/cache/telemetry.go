package cache

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/goliatone/go-params/pkg/cache"

type telemetry struct {
	lookups       metric.Int64Counter
	invalidations metric.Int64Counter
}

func newTelemetry(meter metric.Meter) telemetry {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	t := telemetry{
		lookups:       noop.Int64Counter{},
		invalidations: noop.Int64Counter{},
	}
	if c, err := meter.Int64Counter(
		"params.cache.lookups",
		metric.WithDescription("Parameter cache lookups by result (hit or miss)"),
	); err == nil {
		t.lookups = c
	}
	if c, err := meter.Int64Counter(
		"params.cache.invalidations",
		metric.WithDescription("Parameter cache entries removed by invalidation kind"),
	); err == nil {
		t.invalidations = c
	}
	return t
}

func (t telemetry) recordLookup(ctx context.Context, name string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	t.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("parameter", name),
		attribute.String("result", result),
	))
}

func (t telemetry) recordInvalidation(ctx context.Context, kind string, removed int) {
	if removed == 0 {
		return
	}
	t.invalidations.Add(ctx, int64(removed), metric.WithAttributes(
		attribute.String("kind", kind),
	))
}
