package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/miladsoleymani/listenmux/core"
)

const tracerName = "github.com/miladsoleymani/listenmux"

// Tracing returns middleware that wraps every listener call in a consumer
// span. A nil tracer uses the global provider.
func Tracing(tracer trace.Tracer) core.Middleware {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, msgs []core.Message) error {
			topic, id := describe(msgs)
			ctx, span := tracer.Start(ctx, "listenmux.listener",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.destination.name", topic),
					attribute.String("messaging.message.id", string(id)),
					attribute.Int("messaging.batch.message_count", len(msgs)),
				),
			)
			defer span.End()

			err := next(ctx, msgs)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}
