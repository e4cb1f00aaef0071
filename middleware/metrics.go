package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/sqjobs/job"
)

// Instrument names recorded by Metrics.
const (
	MetricDuration     = "sqjobs.job.duration"
	MetricExecutions   = "sqjobs.job.executions"
	MetricReceiveCount = "sqjobs.job.receive_count"
	MetricQueueLatency = "sqjobs.job.queue_latency"
)

type instruments struct {
	duration   metric.Float64Histogram
	executions metric.Int64Counter
	receives   metric.Int64Histogram
	latency    metric.Float64Histogram
}

// The metric API hands back noop instruments alongside any error, so the
// errors are dropped.
func newInstruments(meter metric.Meter) instruments {
	var in instruments
	in.duration, _ = meter.Float64Histogram(MetricDuration, //nolint:errcheck // noop on error
		metric.WithDescription("Handler execution time"),
		metric.WithUnit("s"))
	in.executions, _ = meter.Int64Counter(MetricExecutions, //nolint:errcheck // noop on error
		metric.WithDescription("Executions by outcome"),
		metric.WithUnit("{execution}"))
	in.receives, _ = meter.Int64Histogram(MetricReceiveCount, //nolint:errcheck // noop on error
		metric.WithDescription("Transport receive count of executed deliveries"),
		metric.WithUnit("{receive}"))
	in.latency, _ = meter.Float64Histogram(MetricQueueLatency, //nolint:errcheck // noop on error
		metric.WithDescription("Time between send and execution start"),
		metric.WithUnit("s"))
	return in
}

// Metrics records execution instruments with the global MeterProvider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(scopeName))
}

// MetricsWithMeter records, per execution:
//   - sqjobs.job.duration and sqjobs.job.executions by job_name, queue, status
//   - sqjobs.job.receive_count by job_name, queue
//   - sqjobs.job.queue_latency by job_name, queue, when the send time is known
func MetricsWithMeter(meter metric.Meter) Middleware {
	in := newInstruments(meter)
	return func(ctx context.Context, j *job.Job, next Handler) error {
		base := []attribute.KeyValue{
			attribute.String("job_name", j.Name),
			attribute.String("queue", j.QueueName),
		}
		began := time.Now()
		in.receives.Record(ctx, int64(j.Retries), metric.WithAttributes(base...))
		if !j.CreatedOn.IsZero() {
			in.latency.Record(ctx, began.Sub(j.CreatedOn).Seconds(), metric.WithAttributes(base...))
		}

		err := next(ctx)

		set := metric.WithAttributes(append(base, attribute.String("status", outcome(err)))...)
		in.duration.Record(ctx, time.Since(began).Seconds(), set)
		in.executions.Add(ctx, 1, set)
		return err
	}
}
