package middleware

import (
	"context"

	"github.com/xraph/sqjobs/job"
)

// Handler runs the remainder of an execution: later middleware and finally
// the job's own handler.
type Handler func(ctx context.Context) error

// Middleware observes or alters one execution of j. It calls next to hand
// control down the chain, or returns without calling it to short-circuit.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain folds mws into one Middleware. mws[0] sees the execution first and
// the result last.
func Chain(mws ...Middleware) Middleware {
	switch len(mws) {
	case 0:
		return func(ctx context.Context, _ *job.Job, next Handler) error { return next(ctx) }
	case 1:
		return mws[0]
	}
	head, tail := mws[0], Chain(mws[1:]...)
	return func(ctx context.Context, j *job.Job, next Handler) error {
		return head(ctx, j, func(ctx context.Context) error {
			return tail(ctx, j, next)
		})
	}
}
