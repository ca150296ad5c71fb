package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aksrustagi/settle/activity"
)

// meterName is the instrumentation scope name for settle metrics.
const meterName = "github.com/aksrustagi/settle"

// Metrics returns middleware that records per-activity execution
// metrics using the global OTel MeterProvider. If no MeterProvider is
// configured, noop instruments are used and this middleware becomes a
// pass-through.
//
// Instruments:
//   - settle.activity.duration (Float64Histogram): execution time in
//     seconds, with attributes: activity, saga, status ("ok" or "error")
//   - settle.activity.executions (Int64Counter): total executions,
//     with attributes: activity, saga, status ("ok" or "error")
func Metrics() activity.Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) activity.Middleware {
	// Create instruments once at middleware construction time.
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"settle.activity.duration",
		metric.WithDescription("Duration of activity execution in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	executions, eErr := meter.Int64Counter(
		"settle.activity.executions",
		metric.WithDescription("Total number of activity executions"),
		metric.WithUnit("{execution}"),
	)
	_ = eErr // noop fallback guaranteed by OTel API contract

	return func(next activity.Handler) activity.Handler {
		return func(ctx context.Context, input []byte) ([]byte, error) {
			start := time.Now()
			out, err := next(ctx, input)
			elapsed := time.Since(start).Seconds()

			status := "ok"
			if err != nil {
				status = "error"
			}

			var name, sagaName string
			if inv, ok := activity.FromContext(ctx); ok {
				name = inv.Name
				sagaName = inv.Saga
			}

			attrs := metric.WithAttributes(
				attribute.String("activity", name),
				attribute.String("saga", sagaName),
				attribute.String("status", status),
			)

			duration.Record(ctx, elapsed, attrs)
			executions.Add(ctx, 1, attrs)

			return out, err
		}
	}
}
