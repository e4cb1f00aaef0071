// Package dlq provides the dead letter queue for jobs that have exhausted
// their retry budget. It supports inspection, replay, and purging.
//
// When a job fails and its receive count has passed MaxRetries, the
// worker calls [Service.Push] to copy it into the DLQ before deleting the
// delivery. The job name, args, kwargs, error message and receive count
// are preserved for debugging.
//
// # Entry
//
// A [Entry] captures:
//   - JobID / JobName / Queue: original job identity
//   - Args / Kwargs: the decoded arguments at time of failure
//   - Error: the final error message
//   - Retries / MaxRetries: exhausted retry budget
//   - FailedAt: when the terminal failure occurred
//   - ReplayedAt: set when the entry is replayed (nil if not yet replayed)
//
// # Service
//
// [Service] wraps the DLQ store with high-level operations:
//
//	svc := dlq.NewService(store, broker)
//
//	// Push is called by the worker on terminal failure.
//	svc.Push(ctx, failedJob, maxRetries, err)
//
//	svc.List(ctx, dlq.ListOpts{Limit: 50})
//	svc.Purge(ctx, time.Now().Add(-7*24*time.Hour))
//
// # Replay
//
// Replaying an entry enqueues a new job with the same name and arguments
// on the original queue and sets ReplayedAt on the entry. It is exposed
// as POST /dlq/:id/replay on the HTTP API and as `sqjobs dlq replay`.
package dlq
