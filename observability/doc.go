// Package observability provides an OpenTelemetry metrics extension for
// sqjobs. MetricsExtension implements the lifecycle hooks to record
// system-wide counters for enqueue, start, completion, retry, terminal
// failure, dead-letter, unknown-name and throttle events.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
