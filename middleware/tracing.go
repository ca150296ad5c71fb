package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aksrustagi/settle/activity"
)

// tracerName is the instrumentation scope name for settle tracing.
const tracerName = "github.com/aksrustagi/settle"

// Tracing returns middleware that wraps activity execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: settle.activity.name, settle.invocation.id,
// settle.run.id, settle.saga, settle.attempt. On error, the span
// status is set to codes.Error with the error message.
func Tracing() activity.Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) activity.Middleware {
	return func(next activity.Handler) activity.Handler {
		return func(ctx context.Context, input []byte) ([]byte, error) {
			var attrs []attribute.KeyValue
			if inv, ok := activity.FromContext(ctx); ok {
				attrs = []attribute.KeyValue{
					attribute.String("settle.activity.name", inv.Name),
					attribute.String("settle.invocation.id", inv.ID),
					attribute.String("settle.run.id", inv.RunID.String()),
					attribute.String("settle.saga", inv.Saga),
					attribute.Int("settle.attempt", inv.Attempt),
				}
			}

			ctx, span := tracer.Start(ctx, "settle.activity.execute",
				trace.WithAttributes(attrs...),
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			defer span.End()

			out, err := next(ctx, input)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}

			return out, err
		}
	}
}
