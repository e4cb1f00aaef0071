// Package amqp implements connector.Connector on RabbitMQ (AMQP 0-9-1).
//
// Messages are pulled with basic.get and held unacknowledged while a job
// runs. A delivery that is neither deleted nor retried within the
// visibility timeout is republished with its receive count in a header
// and the original is acked, which makes it receivable again. Retry with
// a delay republishes the body to a per-delay holding queue whose TTL
// dead-letters it back onto the source queue, then acks the original.
//
// Deliveries lost with a dropped channel are requeued by the broker itself.
// Classic queues count such a redelivery at most once; quorum queues (see
// WithQuorumQueues) report every one through x-delivery-count.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xraph/sqjobs"
	"github.com/xraph/sqjobs/codec"
	"github.com/xraph/sqjobs/connector"
	"github.com/xraph/sqjobs/job"
)

var _ connector.Connector = (*Connector)(nil)

// Message headers carried across republishes.
const (
	HeaderRetries       = "x-sqjobs-retries"
	HeaderSentAt        = "x-sqjobs-sent-at"
	HeaderFirstReceived = "x-sqjobs-first-received"

	// headerDeliveryCount is set by quorum queues.
	headerDeliveryCount = "x-delivery-count"
)

const (
	// DefaultVisibilityTimeout matches the SQS default.
	DefaultVisibilityTimeout = 30 * time.Second

	defaultPollInterval = 100 * time.Millisecond
	delayQueueExpiry    = time.Minute
	expirePublishWait   = 5 * time.Second
)

// Option configures the Connector.
type Option func(*Connector)

// WithCodec sets the body codec. Defaults to JSON.
func WithCodec(c codec.Codec) Option {
	return func(a *Connector) { a.Serializer = connector.NewSerializer(c) }
}

// WithVisibilityTimeout sets how long a received delivery is held before
// it is returned to the queue.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(a *Connector) { a.visibility = d }
}

// WithPollInterval sets the pause between empty basic.get attempts.
func WithPollInterval(d time.Duration) Option {
	return func(a *Connector) { a.pollInterval = d }
}

// WithQuorumQueues makes CreateQueue declare quorum queues.
func WithQuorumQueues() Option {
	return func(a *Connector) { a.quorum = true }
}

type inflight struct {
	queue    string
	delivery amqp.Delivery
	retries  int
	first    time.Time
	timer    *time.Timer
}

// Connector is a RabbitMQ-backed connector.Connector.
type Connector struct {
	connector.Serializer

	conn         *amqp.Connection
	visibility   time.Duration
	pollInterval time.Duration
	quorum       bool

	mu       sync.Mutex
	ch       *amqp.Channel
	inflight map[string]*inflight
	closed   bool
}

// Dial connects to the broker at url.
func Dial(url string, opts ...Option) (*Connector, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("sqjobs/amqp: dial: %w", err)
	}

	a := &Connector{
		Serializer:   connector.NewSerializer(nil),
		conn:         conn,
		visibility:   DefaultVisibilityTimeout,
		pollInterval: defaultPollInterval,
		inflight:     make(map[string]*inflight),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// CreateQueue declares a durable queue.
func (a *Connector) CreateQueue(_ context.Context, name string) error {
	ch, err := a.conn.Channel()
	if err != nil {
		return fmt.Errorf("sqjobs/amqp: open channel: %w", err)
	}
	defer ch.Close() //nolint:errcheck // throwaway channel

	var args amqp.Table
	if a.quorum {
		args = amqp.Table{"x-queue-type": "quorum"}
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return fmt.Errorf("sqjobs/amqp: declare queue %q: %w", name, err)
	}
	return nil
}

// DeleteQueue deletes a queue and its messages.
func (a *Connector) DeleteQueue(_ context.Context, name string) error {
	ch, err := a.conn.Channel()
	if err != nil {
		return fmt.Errorf("sqjobs/amqp: open channel: %w", err)
	}
	defer ch.Close() //nolint:errcheck // throwaway channel

	if _, err := ch.QueueDelete(name, false, false, false); err != nil {
		return fmt.Errorf("sqjobs/amqp: delete queue %q: %w", name, err)
	}
	return nil
}

// Enqueue serializes j and publishes it.
func (a *Connector) Enqueue(ctx context.Context, queue string, j *job.Job) error {
	body, err := a.Serialize(j)
	if err != nil {
		return err
	}
	return a.Publish(ctx, queue, body)
}

// Publish sends a raw body.
func (a *Connector) Publish(ctx context.Context, queue string, body []byte) error {
	if err := a.probe(queue); err != nil {
		return err
	}
	now := time.Now()
	return a.publish(ctx, queue, amqp.Publishing{
		ContentType:  a.Codec.ContentType(),
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    now,
		Headers:      amqp.Table{HeaderSentAt: now.UnixMilli()},
		Body:         body,
	})
}

func (a *Connector) publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	ch, err := a.channel()
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, "", routingKey, false, false, msg); err != nil {
		return fmt.Errorf("sqjobs/amqp: publish to %q: %w", routingKey, err)
	}
	return nil
}

// Dequeue receives one job; see connector.Connector.
func (a *Connector) Dequeue(ctx context.Context, queue string, wait time.Duration) (*job.Job, error) {
	if err := a.probe(queue); err != nil {
		return nil, err
	}
	return connector.Poll(ctx, wait, func(ctx context.Context, wait time.Duration) (*job.Job, error) {
		deadline := time.Now().Add(wait)
		for {
			j, err := a.get(queue)
			if err != nil || j != nil {
				return j, err
			}
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, nil
			}
			if err := connector.Sleep(ctx, min(remaining, a.pollInterval)); err != nil {
				return nil, err
			}
		}
	})
}

// get performs one basic.get and registers the delivery as in flight.
func (a *Connector) get(queue string) (*job.Job, error) {
	ch, err := a.channel()
	if err != nil {
		return nil, err
	}
	d, ok, err := ch.Get(queue, false)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("sqjobs/amqp: queue %q: %w", queue, sqjobs.ErrQueueNotFound)
		}
		return nil, fmt.Errorf("sqjobs/amqp: get from %q: %w", queue, err)
	}
	if !ok {
		return nil, nil
	}

	now := time.Now()
	handle := uuid.NewString()
	msg := &inflight{
		queue:    queue,
		delivery: d,
		retries:  retriesOf(d),
		first:    firstReceivedOf(d, now),
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = d.Nack(false, true) //nolint:errcheck // connector is shutting down
		return nil, sqjobs.ErrConnectorClosed
	}
	a.inflight[handle] = msg
	msg.timer = time.AfterFunc(a.visibility, func() { a.expire(handle) })
	a.mu.Unlock()

	first := msg.first
	md := job.Metadata{
		BrokerID:         handle,
		Retries:          msg.retries,
		CreatedOn:        sentAtOf(d),
		FirstExecutionOn: &first,
	}
	return a.Deserialize(d.Body, queue, md)
}

// expire returns an abandoned delivery to its queue as a fresh message
// that remembers how often it was received.
func (a *Connector) expire(handle string) {
	msg := a.take(handle)
	if msg == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), expirePublishWait)
	defer cancel()
	_ = a.republish(ctx, msg.queue, msg) //nolint:errcheck // republish falls back to a requeue
}

// take removes handle from the in-flight set.
func (a *Connector) take(handle string) *inflight {
	a.mu.Lock()
	defer a.mu.Unlock()
	msg, ok := a.inflight[handle]
	if !ok {
		return nil
	}
	delete(a.inflight, handle)
	msg.timer.Stop()
	return msg
}

// Delete acks the delivery identified by handle. Unknown handles are
// ignored.
func (a *Connector) Delete(_ context.Context, queue, handle string) error {
	if err := a.probe(queue); err != nil {
		return err
	}
	msg := a.take(handle)
	if msg == nil {
		return nil
	}
	if err := msg.delivery.Ack(false); err != nil {
		return fmt.Errorf("sqjobs/amqp: ack on %q: %w", queue, err)
	}
	return nil
}

// Retry makes the delivery receivable again after delay.
func (a *Connector) Retry(ctx context.Context, queue, handle string, delay time.Duration) error {
	if err := a.probe(queue); err != nil {
		return err
	}
	msg := a.take(handle)
	if msg == nil {
		return fmt.Errorf("sqjobs/amqp: retry %q: %w", handle, sqjobs.ErrInvalidHandle)
	}

	delay = connector.ClampDelay(delay)
	routingKey := queue
	if delay > 0 {
		name, err := a.declareDelayQueue(queue, delay)
		if err != nil {
			_ = msg.delivery.Nack(false, true) //nolint:errcheck // fall back to immediate redelivery
			return err
		}
		routingKey = name
	}

	return a.republish(ctx, routingKey, msg)
}

// republish publishes a copy of msg to routingKey carrying its receive
// count and first-receive time, then acks the original. When the publish
// fails the original is requeued instead.
func (a *Connector) republish(ctx context.Context, routingKey string, msg *inflight) error {
	d := msg.delivery
	err := a.publish(ctx, routingKey, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    d.Timestamp,
		Headers:      republishHeaders(msg),
		Body:         d.Body,
	})
	if err != nil {
		_ = d.Nack(false, true) //nolint:errcheck // fall back to immediate redelivery
		return err
	}
	if err := d.Ack(false); err != nil {
		return fmt.Errorf("sqjobs/amqp: ack on %q: %w", msg.queue, err)
	}
	return nil
}

// declareDelayQueue declares the holding queue for queue and delay.
func (a *Connector) declareDelayQueue(queue string, delay time.Duration) (string, error) {
	name := DelayQueueName(queue, delay)
	ch, err := a.channel()
	if err != nil {
		return "", err
	}
	_, err = ch.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-message-ttl":             delay.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
		"x-expires":                 (delay + delayQueueExpiry).Milliseconds(),
	})
	if err != nil {
		return "", fmt.Errorf("sqjobs/amqp: declare delay queue %q: %w", name, err)
	}
	return name, nil
}

// Close requeues every in-flight delivery and closes the connection.
func (a *Connector) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return sqjobs.ErrConnectorClosed
	}
	a.closed = true
	pending := a.inflight
	a.inflight = make(map[string]*inflight)
	ch := a.ch
	a.mu.Unlock()

	for _, msg := range pending {
		msg.timer.Stop()
		_ = msg.delivery.Nack(false, true) //nolint:errcheck // closing anyway
	}
	if ch != nil && !ch.IsClosed() {
		_ = ch.Close() //nolint:errcheck // connection close follows
	}
	return a.conn.Close()
}

// channel returns the shared channel, reopening it after a channel-level
// error closed it.
func (a *Connector) channel() (*amqp.Channel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, sqjobs.ErrConnectorClosed
	}
	if a.ch != nil && !a.ch.IsClosed() {
		return a.ch, nil
	}
	ch, err := a.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("sqjobs/amqp: open channel: %w", err)
	}
	a.ch = ch
	return ch, nil
}

// probe checks that queue exists. A failed passive declare closes its
// channel, so it runs on a throwaway one.
func (a *Connector) probe(queue string) error {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return sqjobs.ErrConnectorClosed
	}

	ch, err := a.conn.Channel()
	if err != nil {
		return fmt.Errorf("sqjobs/amqp: open channel: %w", err)
	}
	defer ch.Close() //nolint:errcheck // throwaway channel

	if _, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("sqjobs/amqp: queue %q: %w", queue, sqjobs.ErrQueueNotFound)
		}
		return fmt.Errorf("sqjobs/amqp: probe queue %q: %w", queue, err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Delivery metadata
// ──────────────────────────────────────────────────

// DelayQueueName is the holding queue used for retries of queue delayed
// by delay.
func DelayQueueName(queue string, delay time.Duration) string {
	return queue + ".delay." + strconv.FormatInt(delay.Milliseconds(), 10)
}

// retriesOf is the 1-based receive count of d: deliveries recorded by
// earlier republishes plus broker-side redeliveries of this copy.
func retriesOf(d amqp.Delivery) int {
	n, _ := headerInt(d.Headers, HeaderRetries)
	if c, ok := headerInt(d.Headers, headerDeliveryCount); ok {
		n += c
	} else if d.Redelivered {
		n++
	}
	return int(n) + 1
}

// republishHeaders carries msg's delivery state over to its next copy.
func republishHeaders(msg *inflight) amqp.Table {
	return amqp.Table{
		HeaderRetries:       int64(msg.retries),
		HeaderSentAt:        sentAtOf(msg.delivery).UnixMilli(),
		HeaderFirstReceived: msg.first.UnixMilli(),
	}
}

func sentAtOf(d amqp.Delivery) time.Time {
	if ms, ok := headerInt(d.Headers, HeaderSentAt); ok {
		return time.UnixMilli(ms)
	}
	return d.Timestamp
}

func firstReceivedOf(d amqp.Delivery, now time.Time) time.Time {
	if ms, ok := headerInt(d.Headers, HeaderFirstReceived); ok {
		return time.UnixMilli(ms)
	}
	return now
}

// headerInt reads an integer header of any AMQP integer width.
func headerInt(t amqp.Table, key string) (int64, bool) {
	switch v := t[key].(type) {
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	default:
		return 0, false
	}
}

func isNotFound(err error) bool {
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound
}
