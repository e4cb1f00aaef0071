// Package job defines the job entity that travels through a queue, its wire
// envelope, handler definitions and the name-keyed registry workers dispatch
// through.
//
// # Job Entity
//
// A [Job] is rebuilt from scratch every time a message is received. The
// envelope part ({id, name, args, kwargs}) comes from the message body; the
// [Metadata] part (delivery handle, receive count, send time, first receive
// time) comes from the transport and is merged only at decode time by
// [FromEnvelope]. A Job therefore never outlives a single delivery attempt.
//
//	j := job.New("send_email", nil, map[string]any{"to": "alice@example.com"})
//
// # Defining a Job
//
// Handlers receive the whole Job so they can read delivery metadata such as
// Retries or FirstExecutionOn:
//
//	var SendEmail = job.NewDefinition("send_email",
//	    func(ctx context.Context, j *job.Job) error {
//	        return mailer.Send(j.Kwargs["to"].(string))
//	    },
//	    job.WithMaxRetries(5),
//	)
//
// [Typed] binds kwargs into a struct before calling the handler:
//
//	var Report = job.Typed("build_report",
//	    func(ctx context.Context, j *job.Job, in ReportInput) error { ... },
//	)
//
// # Registry
//
// [Registry] maps names to definitions. It is filled before a worker starts
// and sealed when the worker begins polling; lookups afterwards are
// read-only.
package job
