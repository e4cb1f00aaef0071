// Package middleware wraps each job execution with behaviour that is not
// part of the job itself.
//
// Workers run every delivery through one [Chain]. The engine installs, from
// outermost to innermost:
//
//	Recover → Tracing → Metrics → Logging → Timeout → user middleware → handler
//
// [Recover] sits outside everything else so a panic in any later layer
// still reaches the worker as a failure (*PanicError) and follows the
// normal retry and dead letter path. [Timeout] is a global ceiling; the
// per-definition timeout set with job.WithTimeout is applied by the worker
// beneath the whole chain.
//
// A custom middleware receives the job and the rest of the chain:
//
//	func skipWeekends(ctx context.Context, j *job.Job, next middleware.Handler) error {
//	    if wd := time.Now().Weekday(); wd == time.Saturday || wd == time.Sunday {
//	        return errors.New("not on weekends")
//	    }
//	    return next(ctx)
//	}
//
// Returning without calling next fails the delivery; the worker then
// decides between retry and dead letter from the receive count.
package middleware
