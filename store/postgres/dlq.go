package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/sqjobs"
	"github.com/xraph/sqjobs/dlq"
)

const entryColumns = `id, job_id, job_name, queue, args, kwargs, error,
	retries, max_retries, first_execution_on, failed_at, replayed_at, created_at`

// PushDLQ inserts entry.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	args, kwargs := entry.Args, entry.Kwargs
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	_, err := s.pool.Exec(ctx, `INSERT INTO sqjobs_dlq (`+entryColumns+`) VALUES (
		@id, @job_id, @job_name, @queue, @args, @kwargs, @error,
		@retries, @max_retries, @first_execution_on, @failed_at, @replayed_at, @created_at)`,
		pgx.NamedArgs{
			"id":                 entry.ID,
			"job_id":             entry.JobID,
			"job_name":           entry.JobName,
			"queue":              entry.Queue,
			"args":               args,
			"kwargs":             kwargs,
			"error":              entry.Error,
			"retries":            entry.Retries,
			"max_retries":        entry.MaxRetries,
			"first_execution_on": entry.FirstExecutionOn,
			"failed_at":          entry.FailedAt,
			"replayed_at":        entry.ReplayedAt,
			"created_at":         entry.CreatedAt,
		})
	if err != nil {
		return fmt.Errorf("sqjobs/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries newest failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var (
		q    strings.Builder
		args = pgx.NamedArgs{}
	)
	q.WriteString(`SELECT ` + entryColumns + ` FROM sqjobs_dlq`)
	if opts.Queue != "" {
		q.WriteString(` WHERE queue = @queue`)
		args["queue"] = opts.Queue
	}
	q.WriteString(` ORDER BY failed_at DESC, id DESC`)
	if opts.Limit > 0 {
		q.WriteString(` LIMIT @limit`)
		args["limit"] = opts.Limit
	}
	if opts.Offset > 0 {
		q.WriteString(` OFFSET @offset`)
		args["offset"] = opts.Offset
	}

	rows, err := s.pool.Query(ctx, q.String(), args)
	if err != nil {
		return nil, fmt.Errorf("sqjobs/postgres: list dlq: %w", err)
	}
	entries, err := pgx.CollectRows(rows, collectEntry)
	if err != nil {
		return nil, fmt.Errorf("sqjobs/postgres: list dlq: %w", err)
	}
	return entries, nil
}

// GetDLQ returns the entry with entryID or sqjobs.ErrDLQNotFound.
func (s *Store) GetDLQ(ctx context.Context, entryID string) (*dlq.Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+entryColumns+` FROM sqjobs_dlq WHERE id = $1`, entryID)
	if err != nil {
		return nil, fmt.Errorf("sqjobs/postgres: get dlq: %w", err)
	}
	e, err := pgx.CollectExactlyOneRow(rows, collectEntry)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, sqjobs.ErrDLQNotFound
	case err != nil:
		return nil, fmt.Errorf("sqjobs/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ stamps replayed_at.
func (s *Store) ReplayDLQ(ctx context.Context, entryID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sqjobs_dlq SET replayed_at = $2 WHERE id = $1`,
		entryID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqjobs/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sqjobs.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ deletes entries that failed before before.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sqjobs_dlq WHERE failed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("sqjobs/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the number of stored entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sqjobs_dlq`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqjobs/postgres: count dlq: %w", err)
	}
	return n, nil
}

func collectEntry(row pgx.CollectableRow) (*dlq.Entry, error) {
	var e dlq.Entry
	err := row.Scan(
		&e.ID, &e.JobID, &e.JobName, &e.Queue, &e.Args, &e.Kwargs, &e.Error,
		&e.Retries, &e.MaxRetries, &e.FirstExecutionOn, &e.FailedAt, &e.ReplayedAt, &e.CreatedAt,
	)
	return &e, err
}
