package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/sqjobs/job"
	"github.com/xraph/sqjobs/middleware"
)

func recordSpan(t *testing.T, j *job.Job, run middleware.Handler) (sdktrace.ReadOnlySpan, error) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	err := middleware.TracingWithTracer(tp.Tracer("test"))(context.Background(), j, run)

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	return ended[0], err
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes() {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestTracing_ConsumerSpan(t *testing.T) {
	j := newTestJob()
	span, err := recordSpan(t, j, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("err = %v", err)
	}

	if span.Name() != middleware.SpanName {
		t.Errorf("name = %q, want %q", span.Name(), middleware.SpanName)
	}
	if span.SpanKind() != trace.SpanKindConsumer {
		t.Errorf("kind = %v, want consumer", span.SpanKind())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", span.Status().Code)
	}

	attrs := spanAttrs(span)
	for key, want := range map[attribute.Key]string{
		"messaging.system":           "sqjobs",
		"messaging.destination.name": "default",
		"messaging.message.id":       j.ID,
		"sqjobs.job.name":            "send-email",
		"sqjobs.broker_id":           "receipt-7",
	} {
		if got := attrs[key].AsString(); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
	if got := attrs["messaging.message.delivery_count"].AsInt64(); got != 2 {
		t.Errorf("delivery_count = %d, want 2", got)
	}
	if _, ok := attrs["sqjobs.first_execution_on"]; !ok {
		t.Error("first_execution_on attribute missing")
	}
}

func TestTracing_OptionalAttributesOmitted(t *testing.T) {
	j := &job.Job{ID: "job_1", Name: "eager", QueueName: "default", Retries: 1}
	span, _ := recordSpan(t, j, func(context.Context) error { return nil })

	attrs := spanAttrs(span)
	for _, key := range []attribute.Key{"sqjobs.broker_id", "sqjobs.first_execution_on"} {
		if _, ok := attrs[key]; ok {
			t.Errorf("%s set for a delivery without it", key)
		}
	}
}

func TestTracing_Failure(t *testing.T) {
	want := errors.New("template missing")
	span, err := recordSpan(t, newTestJob(), func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
	if span.Status().Code != codes.Error || span.Status().Description != "template missing" {
		t.Errorf("status = %+v, want Error(template missing)", span.Status())
	}
	var recorded bool
	for _, ev := range span.Events() {
		if ev.Name == "exception" {
			recorded = true
		}
	}
	if !recorded {
		t.Error("error not recorded as a span event")
	}
}

func TestTracing_HandlerSeesSpanContext(t *testing.T) {
	var inner trace.SpanContext
	span, _ := recordSpan(t, newTestJob(), func(ctx context.Context) error {
		inner = trace.SpanContextFromContext(ctx)
		return nil
	})
	if !inner.IsValid() || inner.SpanID() != span.SpanContext().SpanID() {
		t.Errorf("handler span = %v, want %v", inner.SpanID(), span.SpanContext().SpanID())
	}
}
