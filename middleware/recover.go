package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/sqjobs/job"
)

// PanicError is the failure a panicking handler turns into.
type PanicError struct {
	Job   string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in job %s: %v", e.Job, e.Value)
}

// Unwrap exposes the panic value when it was an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Recover turns a panic anywhere below it in the chain into a *PanicError,
// so the delivery is acknowledged like any other failure.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (err error) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			pe := &PanicError{Job: j.Name, Value: v, Stack: debug.Stack()}
			logger.LogAttrs(ctx, slog.LevelError, "job handler panicked",
				append(deliveryLogAttrs(j),
					slog.Any("panic", v),
					slog.String("stack", string(pe.Stack)),
				)...)
			err = pe
		}()
		return next(ctx)
	}
}
