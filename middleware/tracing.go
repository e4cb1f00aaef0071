package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/sqjobs/job"
)

// scopeName is the instrumentation scope for spans and instruments.
const scopeName = "github.com/xraph/sqjobs"

// SpanName is the name of the consumer span opened for each execution.
const SpanName = "sqjobs.job.execute"

// Tracing opens a consumer span per execution using the global
// TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(scopeName))
}

// TracingWithTracer is Tracing over an explicit tracer. Failures are
// recorded on the span and set its status to Error.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, SpanName,
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(deliverySpanAttrs(j)...),
		)
		defer span.End()

		err := next(ctx)
		if err == nil {
			span.SetStatus(codes.Ok, "")
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
}
