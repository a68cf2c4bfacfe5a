package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/commercekit/conduct/workflow"
)

// tracerName is the instrumentation scope name for conduct tracing.
const tracerName = "github.com/commercekit/conduct"

// Tracing returns an interceptor that wraps workflow execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this becomes a pass-through.
//
// Span attributes: conduct.workflow.name, conduct.run.id,
// conduct.correlation_id. On error, the span status is set to
// codes.Error with the error message.
func Tracing() workflow.Interceptor {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) workflow.Interceptor {
	return func(ctx context.Context, run *workflow.Run, next workflow.Handler) error {
		ctx, span := tracer.Start(ctx, "conduct.workflow.execute",
			trace.WithAttributes(
				attribute.String("conduct.workflow.name", run.Name),
				attribute.String("conduct.run.id", run.ID.String()),
				attribute.String("conduct.correlation_id", run.CorrelationID),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
