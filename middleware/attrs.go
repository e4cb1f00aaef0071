package middleware

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/sqjobs/job"
)

// deliveryLogAttrs identifies one delivery of j in log records.
func deliveryLogAttrs(j *job.Job) []slog.Attr {
	return []slog.Attr{
		slog.String("job_name", j.Name),
		slog.String("job_id", j.ID),
		slog.String("queue", j.QueueName),
		slog.Int("retries", j.Retries),
	}
}

// deliverySpanAttrs follows the OpenTelemetry messaging conventions where
// one exists.
func deliverySpanAttrs(j *job.Job) []attribute.KeyValue {
	kv := []attribute.KeyValue{
		attribute.String("messaging.system", "sqjobs"),
		attribute.String("messaging.operation.type", "process"),
		attribute.String("messaging.destination.name", j.QueueName),
		attribute.String("messaging.message.id", j.ID),
		attribute.Int("messaging.message.delivery_count", j.Retries),
		attribute.String("sqjobs.job.name", j.Name),
	}
	if j.BrokerID != "" {
		kv = append(kv, attribute.String("sqjobs.broker_id", j.BrokerID))
	}
	if j.FirstExecutionOn != nil {
		kv = append(kv, attribute.String("sqjobs.first_execution_on", j.FirstExecutionOn.UTC().Format(time.RFC3339Nano)))
	}
	return kv
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
