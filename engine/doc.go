// Package engine wires the sqjobs subsystems together and provides the
// application-level API for registering, enqueuing and processing jobs.
//
// An Engine owns a broker over one connector, the job registry, the
// extension registry, the default middleware chain, the optional dead
// letter service and queue manager, and the worker pool that consumes one
// queue.
//
// # Building an Engine
//
// From environment configuration:
//
//	cfg, err := sqjobs.LoadConfig()
//	eng, err := engine.FromConfig(ctx, cfg, engine.WithLogger(logger))
//	defer eng.Close()
//
// Or over a connector you opened yourself:
//
//	conn := memory.New(memory.WithQueues("emails"))
//	eng, err := engine.New(conn,
//	    engine.WithQueue("emails"),
//	    engine.WithConcurrency(4),
//	    engine.WithDLQStore(memstore.New()),
//	    engine.WithQueueConfig(queue.Config{Name: "emails", RateLimit: 50}),
//	)
//
// # Registering Work
//
//	eng.Register("send-email", sendEmail, job.WithMaxRetries(5))
//
// # Enqueuing Jobs
//
//	j, err := eng.Enqueue(ctx, "emails", "send-email", nil, map[string]any{"to": "alice@example.com"})
//
// # Options
//
//   - [WithLogger] set the logger
//   - [WithQueue] and [WithConcurrency] choose what the pool consumes
//   - [WithExtension] register a lifecycle extension
//   - [WithMiddleware] add a middleware to the execution chain
//   - [WithBackoff] set the retry backoff strategy
//   - [WithDLQStore] persist dead-lettered jobs
//   - [WithQueueConfig] and [WithJobConfig] configure rate limits and concurrency caps
//   - [WithTracerProvider] and [WithMeterProvider] set OpenTelemetry providers
package engine
