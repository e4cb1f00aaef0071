package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/sqjobs/ext"
	"github.com/xraph/sqjobs/job"
	"github.com/xraph/sqjobs/observability"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestJob() *job.Job {
	j := job.New("send-email", nil, nil)
	j.QueueName = "default"
	return j
}

// counterValue sums every data point of the named counter.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: data = %T, want Sum[int64]", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_Hooks(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		metric string
		fire   func(e *observability.MetricsExtension) error
	}{
		{"sqjobs.job.enqueued", func(e *observability.MetricsExtension) error {
			return e.OnJobEnqueued(ctx, "default", newTestJob())
		}},
		{"sqjobs.job.started", func(e *observability.MetricsExtension) error {
			return e.OnJobStarted(ctx, newTestJob())
		}},
		{"sqjobs.job.completed", func(e *observability.MetricsExtension) error {
			return e.OnJobCompleted(ctx, newTestJob(), 100*time.Millisecond)
		}},
		{"sqjobs.job.retried", func(e *observability.MetricsExtension) error {
			return e.OnJobRetrying(ctx, newTestJob(), time.Second, errors.New("boom"))
		}},
		{"sqjobs.job.failed", func(e *observability.MetricsExtension) error {
			return e.OnJobFailed(ctx, newTestJob(), errors.New("boom"))
		}},
		{"sqjobs.job.dlq", func(e *observability.MetricsExtension) error {
			return e.OnJobDLQ(ctx, newTestJob(), errors.New("terminal"))
		}},
		{"sqjobs.job.unknown", func(e *observability.MetricsExtension) error {
			return e.OnJobUnknown(ctx, newTestJob())
		}},
		{"sqjobs.job.throttled", func(e *observability.MetricsExtension) error {
			return e.OnJobThrottled(ctx, newTestJob(), time.Second)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			e, reader := newTestExtension()
			if err := tt.fire(e); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := counterValue(t, reader, tt.metric); got != 1 {
				t.Errorf("%s = %d, want 1", tt.metric, got)
			}
		})
	}
}

func TestMetricsExtension_Attributes(t *testing.T) {
	e, reader := newTestExtension()
	_ = e.OnJobEnqueued(context.Background(), "emails", newTestJob()) //nolint:errcheck // always nil

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	sum := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64]) //nolint:forcetypeassert // only counter recorded
	if len(sum.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(sum.DataPoints))
	}
	attrs := sum.DataPoints[0].Attributes
	if v, _ := attrs.Value("queue"); v.AsString() != "emails" {
		t.Errorf("queue attribute = %q, want emails", v.AsString())
	}
	if v, _ := attrs.Value("job_name"); v.AsString() != "send-email" {
		t.Errorf("job_name attribute = %q, want send-email", v.AsString())
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := newTestExtension()

	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob()

	reg.EmitJobEnqueued(ctx, "default", j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobCompleted(ctx, j, 50*time.Millisecond)
	reg.EmitJobRetrying(ctx, j, time.Second, errors.New("fail"))
	reg.EmitJobFailed(ctx, j, errors.New("fail"))
	reg.EmitJobDLQ(ctx, j, errors.New("dead"))

	for _, name := range []string{
		"sqjobs.job.enqueued", "sqjobs.job.started", "sqjobs.job.completed",
		"sqjobs.job.retried", "sqjobs.job.failed", "sqjobs.job.dlq",
	} {
		if got := counterValue(t, reader, name); got != 1 {
			t.Errorf("%s: want 1, got %d", name, got)
		}
	}
}
