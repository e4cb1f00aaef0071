// Package worker turns received messages back into executed jobs.
//
// A [Worker] is a single-threaded loop over one queue: it ranges over
// [broker.Standard.Jobs], resolves each job's definition by name, runs it
// through the middleware chain and hands the outcome to the [Executor],
// which acknowledges the delivery:
//
//   - success: delete the message
//   - failure with Retries <= MaxRetries: retry after backoff.Delay(Retries)
//   - failure with Retries > MaxRetries: push to the DLQ, then delete
//
// Jobs whose name is not registered follow the [UnknownJobPolicy]. A
// missing queue ends the loop with sqjobs.ErrQueueNotFound; other
// transport errors are logged and polling continues.
//
// A [Pool] runs several independent Workers on the same queue and stops
// them gracefully, cancelling in-flight jobs once the stop deadline passes.
package worker
