// Package sqjobs moves jobs from producers to workers through durable,
// at-least-once message queues.
//
// A producer hands a [job.Job] to a broker, which serializes it into a
// {id, name, args, kwargs} envelope and sends it through a connector (SQS,
// Redis, RabbitMQ or in-memory). A worker long-polls the same queue, decodes
// each message back into a job carrying transport metadata (delivery handle,
// receive count, send time), looks up the handler registered under the job's
// name and runs it. The executor then acknowledges: delete on success,
// redeliver after a backoff delay on failure, dead-letter once the retry
// budget is spent.
//
// # Quick Start
//
//	conn, err := sqs.Open(ctx, sqs.Config{Region: "eu-west-1"})
//	b := broker.NewStandard(conn)
//	_ = b.Enqueue(ctx, "emails", job.New("send_email", nil, map[string]any{"to": "a@b.c"}))
//
//	reg, _ := job.NewRegistry(job.NewDefinition("send_email", sendEmail))
//	w := worker.New(b, "emails", reg)
//	err = w.Execute(ctx) // blocks until ctx is cancelled
//
// This root package holds the sentinel errors shared by every subpackage and
// the environment-driven [Config] used by the sqjobs binary.
package sqjobs
