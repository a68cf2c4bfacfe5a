package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/workflow"
)

// meterName is the instrumentation scope name for conduct metrics.
const meterName = "github.com/commercekit/conduct"

// Metrics returns an interceptor that records per-workflow execution
// metrics using the global OTel MeterProvider. If no MeterProvider is
// configured, noop instruments are used and this becomes a pass-through.
//
// Instruments:
//   - conduct.workflow.duration (Float64Histogram): execution time in
//     seconds, with attributes: workflow, outcome
//   - conduct.workflow.runs (Int64Counter): total runs, with attributes:
//     workflow, outcome — outcome is "ok" or the failure kind
func Metrics() workflow.Interceptor {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) workflow.Interceptor {
	// Create instruments once at middleware construction time.
	// OTel instruments are safe for concurrent use; on error the API
	// returns noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"conduct.workflow.duration",
		metric.WithDescription("Duration of workflow execution in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	runs, rErr := meter.Int64Counter(
		"conduct.workflow.runs",
		metric.WithDescription("Total number of workflow runs"),
		metric.WithUnit("{run}"),
	)
	_ = rErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, run *workflow.Run, next workflow.Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		outcome := "ok"
		if err != nil {
			outcome = conduct.KindOf(err).String()
		}

		attrs := metric.WithAttributes(
			attribute.String("workflow", run.Name),
			attribute.String("outcome", outcome),
		)

		duration.Record(ctx, elapsed, attrs)
		runs.Add(ctx, 1, attrs)

		return err
	}
}
