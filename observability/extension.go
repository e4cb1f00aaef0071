package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/sqjobs/ext"
	"github.com/xraph/sqjobs/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobEnqueued  = (*MetricsExtension)(nil)
	_ ext.JobStarted   = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobDLQ       = (*MetricsExtension)(nil)
	_ ext.JobUnknown   = (*MetricsExtension)(nil)
	_ ext.JobThrottled = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/sqjobs/observability"

// MetricsExtension records system-wide lifecycle counters with OpenTelemetry.
// Register it as an extension to track enqueue rates, completions,
// retries, terminal failures, dead-lettered jobs, unknown job names and
// throttled deliveries. Every data point carries job_name and queue
// attributes.
type MetricsExtension struct {
	JobEnqueued  metric.Int64Counter
	JobStarted   metric.Int64Counter
	JobCompleted metric.Int64Counter
	JobRetried   metric.Int64Counter
	JobFailed    metric.Int64Counter
	JobDLQ       metric.Int64Counter
	JobUnknown   metric.Int64Counter
	JobThrottled metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on the provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// On error the OTel API returns a noop instrument.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}")) //nolint:errcheck // noop fallback
		return c
	}
	return &MetricsExtension{
		JobEnqueued:  counter("sqjobs.job.enqueued", "Jobs sent to a queue"),
		JobStarted:   counter("sqjobs.job.started", "Deliveries handed to a handler"),
		JobCompleted: counter("sqjobs.job.completed", "Jobs that finished successfully"),
		JobRetried:   counter("sqjobs.job.retried", "Failed deliveries made visible again"),
		JobFailed:    counter("sqjobs.job.failed", "Jobs that failed with the retry budget exhausted"),
		JobDLQ:       counter("sqjobs.job.dlq", "Jobs copied to the dead letter queue"),
		JobUnknown:   counter("sqjobs.job.unknown", "Deliveries naming an unregistered job"),
		JobThrottled: counter("sqjobs.job.throttled", "Deliveries handed back by a rate limit"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(queue string, j *job.Job) metric.AddOption {
	if queue == "" {
		queue = j.QueueName
	}
	return metric.WithAttributes(
		attribute.String("job_name", j.Name),
		attribute.String("queue", queue),
	)
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, queue string, j *job.Job) error {
	m.JobEnqueued.Add(ctx, 1, jobAttrs(queue, j))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.JobStarted.Add(ctx, 1, jobAttrs("", j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, jobAttrs("", j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ time.Duration, _ error) error {
	m.JobRetried.Add(ctx, 1, jobAttrs("", j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, jobAttrs("", j))
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(ctx context.Context, j *job.Job, _ error) error {
	m.JobDLQ.Add(ctx, 1, jobAttrs("", j))
	return nil
}

// OnJobUnknown implements ext.JobUnknown.
func (m *MetricsExtension) OnJobUnknown(ctx context.Context, j *job.Job) error {
	m.JobUnknown.Add(ctx, 1, jobAttrs("", j))
	return nil
}

// OnJobThrottled implements ext.JobThrottled.
func (m *MetricsExtension) OnJobThrottled(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobThrottled.Add(ctx, 1, jobAttrs("", j))
	return nil
}
