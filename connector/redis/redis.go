// Package redis implements connector.Connector on Redis.
//
// Each queue is a Sorted Set of message IDs scored by the time they become
// receivable, a Hash per message (body, send time, receive count, first
// receive time, current handle) and a handle index. Receive, delete and
// retry run as Lua scripts so claiming a message and rotating its handle is
// atomic. Long polls block on a per-queue notify List that producers push
// to, falling back to periodic re-checks for messages whose visibility
// timeout or retry delay expires.
//
// Usage:
//
//	conn, err := redisconn.Open(ctx, &redis.Options{Addr: "localhost:6379"})
//	if err != nil { ... }
//	defer conn.Close()
//	_ = conn.CreateQueue(ctx, "emails")
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xraph/sqjobs"
	"github.com/xraph/sqjobs/codec"
	"github.com/xraph/sqjobs/connector"
	"github.com/xraph/sqjobs/job"
)

var _ connector.Connector = (*Connector)(nil)

const (
	// DefaultVisibilityTimeout matches the SQS default.
	DefaultVisibilityTimeout = 30 * time.Second

	defaultPollInterval = time.Second
	notifyBacklog       = 64
)

// Option configures the Connector.
type Option func(*Connector)

// WithCodec sets the body codec. Defaults to JSON.
func WithCodec(c codec.Codec) Option {
	return func(r *Connector) { r.Serializer = connector.NewSerializer(c) }
}

// WithVisibilityTimeout sets how long a received message stays hidden.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(r *Connector) { r.visibility = d }
}

// WithKeyPrefix replaces the "sqjobs:" key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(r *Connector) { r.keys = keys{prefix: prefix} }
}

// WithPollInterval sets how often a blocked receive re-checks for messages
// that became visible without a producer push. Values below one second
// are raised to one second, the BLPOP resolution.
func WithPollInterval(d time.Duration) Option {
	return func(r *Connector) { r.pollInterval = max(d, time.Second) }
}

// Connector is a Redis-backed connector.Connector.
type Connector struct {
	connector.Serializer

	client       redis.UniversalClient
	owned        bool
	keys         keys
	visibility   time.Duration
	pollInterval time.Duration
}

// New wraps an existing client. The caller owns the client lifecycle.
func New(client redis.UniversalClient, opts ...Option) *Connector {
	r := &Connector{
		Serializer:   connector.NewSerializer(nil),
		client:       client,
		keys:         keys{prefix: defaultKeyPrefix},
		visibility:   DefaultVisibilityTimeout,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open dials Redis, verifies the connection and returns a Connector that
// closes the client on Close.
func Open(ctx context.Context, options *redis.Options, opts ...Option) (*Connector, error) {
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("sqjobs/redis: ping: %w", err)
	}
	r := New(client, opts...)
	r.owned = true
	return r, nil
}

// Client returns the underlying Redis client.
func (r *Connector) Client() redis.UniversalClient { return r.client }

// CreateQueue declares a queue.
func (r *Connector) CreateQueue(ctx context.Context, name string) error {
	if err := r.client.SAdd(ctx, r.keys.queues(), name).Err(); err != nil {
		return fmt.Errorf("sqjobs/redis: create queue %q: %w", name, err)
	}
	return nil
}

// DeleteQueue drops a queue and all of its messages.
func (r *Connector) DeleteQueue(ctx context.Context, name string) error {
	ids, err := r.client.ZRange(ctx, r.keys.visible(name), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("sqjobs/redis: delete queue %q: %w", name, err)
	}

	pipe := r.client.TxPipeline()
	pipe.SRem(ctx, r.keys.queues(), name)
	for _, id := range ids {
		pipe.Del(ctx, r.keys.message(name, id))
	}
	pipe.Del(ctx, r.keys.visible(name), r.keys.handles(name), r.keys.notify(name))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sqjobs/redis: delete queue %q: %w", name, err)
	}
	return nil
}

// Enqueue serializes j and sends it.
func (r *Connector) Enqueue(ctx context.Context, queue string, j *job.Job) error {
	body, err := r.Serialize(j)
	if err != nil {
		return err
	}
	return r.Publish(ctx, queue, body)
}

// Publish sends a raw body.
func (r *Connector) Publish(ctx context.Context, queue string, body []byte) error {
	if err := r.probe(ctx, queue); err != nil {
		return err
	}

	id := uuid.Must(uuid.NewV7()).String()
	now := time.Now().UnixMilli()

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.keys.message(queue, id),
		"body", body,
		"sent_at", now,
	)
	pipe.ZAdd(ctx, r.keys.visible(queue), redis.Z{Score: float64(now), Member: id})
	pipe.LPush(ctx, r.keys.notify(queue), id)
	pipe.LTrim(ctx, r.keys.notify(queue), 0, notifyBacklog-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sqjobs/redis: publish to %q: %w", queue, err)
	}
	return nil
}

// Dequeue receives one job; see connector.Connector.
func (r *Connector) Dequeue(ctx context.Context, queue string, wait time.Duration) (*job.Job, error) {
	if err := r.probe(ctx, queue); err != nil {
		return nil, err
	}
	return connector.Poll(ctx, wait, func(ctx context.Context, wait time.Duration) (*job.Job, error) {
		return r.receive(ctx, queue, wait)
	})
}

func (r *Connector) receive(ctx context.Context, queue string, wait time.Duration) (*job.Job, error) {
	deadline := time.Now().Add(wait)
	for {
		j, err := r.claim(ctx, queue)
		if err != nil || j != nil {
			return j, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		block := min(remaining, r.pollInterval)
		if block < time.Second {
			if err := connector.Sleep(ctx, block); err != nil {
				return nil, err
			}
			continue
		}

		err = r.client.BLPop(ctx, block, r.keys.notify(queue)).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctxErr := connector.ContextErr(ctx); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("sqjobs/redis: wait on %q: %w", queue, err)
		}
	}
}

// claim runs the receive script once.
func (r *Connector) claim(ctx context.Context, queue string) (*job.Job, error) {
	now := time.Now().UnixMilli()
	handle := uuid.NewString()

	res, err := receiveScript.Run(ctx, r.client,
		[]string{r.keys.visible(queue), r.keys.handles(queue)},
		now, r.visibility.Milliseconds(), handle, r.keys.messagePrefix(queue),
	).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqjobs/redis: receive from %q: %w", queue, err)
	}
	if len(res) != 5 {
		return nil, fmt.Errorf("sqjobs/redis: receive from %q: unexpected reply of %d elements", queue, len(res))
	}

	body, _ := res[1].(string)
	md := job.Metadata{
		BrokerID:  handle,
		Retries:   int(toInt64(res[3])),
		CreatedOn: time.UnixMilli(toInt64(res[2])),
	}
	if first := toInt64(res[4]); first > 0 {
		t := time.UnixMilli(first)
		md.FirstExecutionOn = &t
	}
	return r.Deserialize([]byte(body), queue, md)
}

// Delete removes the delivery identified by handle.
func (r *Connector) Delete(ctx context.Context, queue, handle string) error {
	if err := r.probe(ctx, queue); err != nil {
		return err
	}
	err := deleteScript.Run(ctx, r.client,
		[]string{r.keys.visible(queue), r.keys.handles(queue)},
		handle, r.keys.messagePrefix(queue),
	).Err()
	if err != nil {
		return fmt.Errorf("sqjobs/redis: delete from %q: %w", queue, err)
	}
	return nil
}

// Retry makes the delivery visible again after delay.
func (r *Connector) Retry(ctx context.Context, queue, handle string, delay time.Duration) error {
	if err := r.probe(ctx, queue); err != nil {
		return err
	}
	visibleAt := time.Now().Add(connector.ClampDelay(delay)).UnixMilli()
	n, err := retryScript.Run(ctx, r.client,
		[]string{r.keys.visible(queue), r.keys.handles(queue)},
		handle, visibleAt,
	).Int()
	if err != nil {
		return fmt.Errorf("sqjobs/redis: retry on %q: %w", queue, err)
	}
	if n == 0 {
		return fmt.Errorf("sqjobs/redis: retry %q: %w", handle, sqjobs.ErrInvalidHandle)
	}
	return nil
}

// Close closes the client if this Connector opened it.
func (r *Connector) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}

// probe checks that queue has been declared.
func (r *Connector) probe(ctx context.Context, queue string) error {
	ok, err := r.client.SIsMember(ctx, r.keys.queues(), queue).Result()
	if err != nil {
		return fmt.Errorf("sqjobs/redis: probe queue %q: %w", queue, err)
	}
	if !ok {
		return fmt.Errorf("sqjobs/redis: queue %q: %w", queue, sqjobs.ErrQueueNotFound)
	}
	return nil
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case string:
		n, _ := strconv.ParseInt(x, 10, 64) //nolint:errcheck // trusted script output
		return n
	default:
		return 0
	}
}
