package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/sqjobs"
	"github.com/xraph/sqjobs/dlq"
)

// PushDLQ stores entry and indexes it by failure time.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	blob, err := encodeEntry(entry)
	if err != nil {
		return fmt.Errorf("sqjobs/redis: push dlq: %w", err)
	}
	z := goredis.Z{Score: score(entry.FailedAt), Member: entry.ID}

	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, s.keys.entries(), entry.ID, blob)
		p.ZAdd(ctx, s.keys.failed(), z)
		p.ZAdd(ctx, s.keys.queue(entry.Queue), z)
		p.SAdd(ctx, s.keys.queues(), entry.Queue)
		return nil
	})
	if err != nil {
		return fmt.Errorf("sqjobs/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries newest failure first. Entries that no longer
// decode are logged and left out.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	index := s.keys.failed()
	if opts.Queue != "" {
		index = s.keys.queue(opts.Queue)
	}
	start, stop := int64(max(opts.Offset, 0)), int64(-1)
	if opts.Limit > 0 {
		stop = start + int64(opts.Limit) - 1
	}

	ids, err := s.client.ZRevRange(ctx, index, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("sqjobs/redis: list dlq: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	blobs, err := s.client.HMGet(ctx, s.keys.entries(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("sqjobs/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for i, raw := range blobs {
		blob, ok := raw.(string)
		if !ok {
			continue
		}
		e, err := decodeEntry(blob)
		if err != nil {
			s.logger.Warn("skipping unreadable dlq entry",
				slog.String("entry_id", ids[i]),
				slog.String("error", err.Error()),
			)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetDLQ returns the entry or sqjobs.ErrDLQNotFound.
func (s *Store) GetDLQ(ctx context.Context, entryID string) (*dlq.Entry, error) {
	blob, err := s.client.HGet(ctx, s.keys.entries(), entryID).Result()
	switch {
	case errors.Is(err, goredis.Nil):
		return nil, sqjobs.ErrDLQNotFound
	case err != nil:
		return nil, fmt.Errorf("sqjobs/redis: get dlq: %w", err)
	}
	e, err := decodeEntry(blob)
	if err != nil {
		return nil, fmt.Errorf("sqjobs/redis: get dlq %s: %w", entryID, err)
	}
	return e, nil
}

// ReplayDLQ stamps ReplayedAt. A concurrent writer of the same entry may
// lose its update; entries are only written on push and replay.
func (s *Store) ReplayDLQ(ctx context.Context, entryID string) error {
	e, err := s.GetDLQ(ctx, entryID)
	if err != nil {
		return err
	}
	at := time.Now().UTC()
	e.ReplayedAt = &at

	blob, err := encodeEntry(e)
	if err != nil {
		return fmt.Errorf("sqjobs/redis: replay dlq: %w", err)
	}
	if err := s.client.HSet(ctx, s.keys.entries(), entryID, blob).Err(); err != nil {
		return fmt.Errorf("sqjobs/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ drops every entry that failed before before.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	upper := "(" + strconv.FormatFloat(score(before), 'f', -1, 64)
	ids, err := s.client.ZRangeByScore(ctx, s.keys.failed(), &goredis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, fmt.Errorf("sqjobs/redis: purge dlq: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	queues, err := s.client.SMembers(ctx, s.keys.queues()).Result()
	if err != nil {
		return 0, fmt.Errorf("sqjobs/redis: purge dlq: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HDel(ctx, s.keys.entries(), ids...)
		p.ZRemRangeByScore(ctx, s.keys.failed(), "-inf", upper)
		for _, q := range queues {
			p.ZRemRangeByScore(ctx, s.keys.queue(q), "-inf", upper)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sqjobs/redis: purge dlq: %w", err)
	}
	return int64(len(ids)), nil
}

// CountDLQ returns the number of stored entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.keys.failed()).Result()
	if err != nil {
		return 0, fmt.Errorf("sqjobs/redis: count dlq: %w", err)
	}
	return n, nil
}

func score(t time.Time) float64 { return float64(t.UnixMilli()) }

// Entries are encoded under their JSON field names so a blob reads the
// same as the API's view of it.
func encodeEntry(e *dlq.Entry) (string, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(e); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func decodeEntry(blob string) (*dlq.Entry, error) {
	dec := msgpack.NewDecoder(strings.NewReader(blob))
	dec.SetCustomStructTag("json")
	var e dlq.Entry
	if err := dec.Decode(&e); err != nil {
		return nil, err
	}
	if e.ID == "" {
		return nil, errors.New("entry has no id")
	}
	return &e, nil
}
