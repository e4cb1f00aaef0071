package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/sqjobs/engine"
	"github.com/xraph/sqjobs/job"
)

// registerJobs installs the jobs bundled with the binary.
func registerJobs(eng *engine.Engine) error {
	if err := eng.Register("echo", echoJob); err != nil {
		return err
	}
	return eng.Register("sleep", sleepJob)
}

// echoJob logs its arguments.
func echoJob(ctx context.Context, j *job.Job) error {
	slog.InfoContext(ctx, "echo",
		slog.String("job_id", j.ID),
		slog.Any("args", j.Args),
		slog.Any("kwargs", j.Kwargs),
		slog.Int("retries", j.Retries),
	)
	return nil
}

type sleepInput struct {
	Seconds float64 `json:"seconds"`
}

// sleepJob waits kwargs["seconds"], or until the job is cancelled.
func sleepJob(ctx context.Context, j *job.Job) error {
	var in sleepInput
	if err := j.Bind(&in); err != nil {
		return err
	}
	if in.Seconds < 0 {
		return fmt.Errorf("sleep: negative duration %v", in.Seconds)
	}

	t := time.NewTimer(time.Duration(in.Seconds * float64(time.Second)))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
