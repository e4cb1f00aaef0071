// Package ext defines the extension system for sqjobs.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, writing audit logs, paging someone when the dead
// letter queue grows. Each lifecycle hook is a separate interface so
// extensions opt in only to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobEnqueued]: job was sent to a queue
//   - [JobStarted]: worker began executing a delivery
//   - [JobCompleted]: job finished successfully and was deleted
//   - [JobRetrying]: job failed and will be received again after a delay
//   - [JobFailed]: job failed with no retries remaining
//   - [JobDLQ]: job was copied to the dead letter queue
//   - [JobUnknown]: delivery named a job nobody registered
//   - [JobThrottled]: delivery was handed back by a rate limit
//
// # Other Hooks
//
//   - [Shutdown]: the worker pool is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. A hook that fails or panics
// is logged; job processing carries on.
package ext
