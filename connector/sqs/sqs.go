// Package sqs implements connector.Connector on Amazon SQS.
//
// Receive count, send time and first receive time come straight from the
// message system attributes (ApproximateReceiveCount, SentTimestamp,
// ApproximateFirstReceiveTimestamp); the receipt handle is the delivery
// handle. Retry is ChangeMessageVisibility, delete is DeleteMessage.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	"github.com/xraph/sqjobs"
	"github.com/xraph/sqjobs/codec"
	"github.com/xraph/sqjobs/connector"
	"github.com/xraph/sqjobs/job"
)

var _ connector.Connector = (*Connector)(nil)

// Message system attribute names.
const (
	attrReceiveCount = "ApproximateReceiveCount"
	attrSentAt       = "SentTimestamp"
	attrFirstReceive = "ApproximateFirstReceiveTimestamp"
)

// API is the subset of the SQS client the connector uses.
type API interface {
	GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, opts ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, opts ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Config holds connection settings. Empty credentials fall back to the
// default AWS credential chain.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the service URL (for example a local emulator).
	Endpoint string
}

// String masks credentials.
func (c Config) String() string {
	secret := ""
	if c.SecretAccessKey != "" {
		secret = "****"
	}
	key := ""
	if c.AccessKeyID != "" {
		key = "****"
	}
	return fmt.Sprintf("sqs.Config{Region:%s AccessKeyID:%s SecretAccessKey:%s Endpoint:%s}",
		c.Region, key, secret, c.Endpoint)
}

// Option configures the Connector.
type Option func(*Connector)

// WithCodec sets the body codec. Defaults to JSON. SQS bodies must be
// valid UTF-8 text, so binary codecs are not suitable here.
func WithCodec(c codec.Codec) Option {
	return func(s *Connector) { s.Serializer = connector.NewSerializer(c) }
}

// Connector is an SQS-backed connector.Connector.
type Connector struct {
	connector.Serializer

	api  API
	mu   sync.RWMutex
	urls map[string]string
}

// New wraps an SQS API client.
func New(api API, opts ...Option) *Connector {
	s := &Connector{
		Serializer: connector.NewSerializer(nil),
		api:        api,
		urls:       make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open builds an SQS client from cfg.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Connector, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("sqjobs/sqs: load aws config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return New(client, opts...), nil
}

// Enqueue serializes j and sends it.
func (s *Connector) Enqueue(ctx context.Context, queue string, j *job.Job) error {
	body, err := s.Serialize(j)
	if err != nil {
		return err
	}
	return s.Publish(ctx, queue, body)
}

// Publish sends a raw body.
func (s *Connector) Publish(ctx context.Context, queue string, body []byte) error {
	url, err := s.queueURL(ctx, queue)
	if err != nil {
		return err
	}
	_, err = s.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return s.wrap(queue, "send", err)
	}
	return nil
}

// Dequeue receives one job; see connector.Connector.
func (s *Connector) Dequeue(ctx context.Context, queue string, wait time.Duration) (*job.Job, error) {
	url, err := s.queueURL(ctx, queue)
	if err != nil {
		return nil, err
	}
	return connector.Poll(ctx, wait, func(ctx context.Context, wait time.Duration) (*job.Job, error) {
		return s.receive(ctx, queue, url, wait)
	})
}

func (s *Connector) receive(ctx context.Context, queue, url string, wait time.Duration) (*job.Job, error) {
	out, err := s.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(url),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     waitSeconds(wait),
		AttributeNames:      []types.QueueAttributeName{types.QueueAttributeNameAll},
	})
	if err != nil {
		return nil, s.wrap(queue, "receive", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	msg := out.Messages[0]
	return s.Deserialize([]byte(aws.ToString(msg.Body)), queue, metadata(msg))
}

// waitSeconds is wait in whole seconds, rounded up so a positive wait
// long-polls instead of returning at once.
func waitSeconds(wait time.Duration) int32 {
	if wait <= 0 {
		return 0
	}
	return int32((wait + time.Second - 1) / time.Second) //nolint:gosec // clamped to MaxWaitTime
}

// metadata maps SQS system attributes onto job metadata.
func metadata(msg types.Message) job.Metadata {
	md := job.Metadata{BrokerID: aws.ToString(msg.ReceiptHandle)}
	if v, err := strconv.Atoi(msg.Attributes[attrReceiveCount]); err == nil {
		md.Retries = v
	}
	if ms, err := strconv.ParseInt(msg.Attributes[attrSentAt], 10, 64); err == nil {
		md.CreatedOn = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(msg.Attributes[attrFirstReceive], 10, 64); err == nil {
		t := time.UnixMilli(ms)
		md.FirstExecutionOn = &t
	}
	return md
}

// Delete removes the delivery identified by handle. Invalid receipt
// handles are treated as already deleted.
func (s *Connector) Delete(ctx context.Context, queue, handle string) error {
	url, err := s.queueURL(ctx, queue)
	if err != nil {
		return err
	}
	_, err = s.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		if isInvalidHandle(err) {
			return nil
		}
		return s.wrap(queue, "delete", err)
	}
	return nil
}

// Retry changes the delivery's visibility timeout to delay, rounded down
// to whole seconds.
func (s *Connector) Retry(ctx context.Context, queue, handle string, delay time.Duration) error {
	url, err := s.queueURL(ctx, queue)
	if err != nil {
		return err
	}
	_, err = s.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(url),
		ReceiptHandle:     aws.String(handle),
		VisibilityTimeout: int32(connector.ClampDelay(delay) / time.Second), //nolint:gosec // clamped to 12h
	})
	if err != nil {
		if isInvalidHandle(err) {
			return fmt.Errorf("sqjobs/sqs: retry on %q: %w", queue, errors.Join(sqjobs.ErrInvalidHandle, err))
		}
		return s.wrap(queue, "retry", err)
	}
	return nil
}

// Close is a no-op; the AWS client holds no long-lived resources.
func (s *Connector) Close() error { return nil }

// queueURL resolves and caches a queue URL. The lookup doubles as the
// existence probe.
func (s *Connector) queueURL(ctx context.Context, queue string) (string, error) {
	s.mu.RLock()
	url, ok := s.urls[queue]
	s.mu.RUnlock()
	if ok {
		return url, nil
	}

	out, err := s.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queue)})
	if err != nil {
		return "", s.wrap(queue, "get queue url", err)
	}
	url = aws.ToString(out.QueueUrl)

	s.mu.Lock()
	s.urls[queue] = url
	s.mu.Unlock()
	return url, nil
}

// wrap classifies err. A missing queue also evicts the cached URL.
func (s *Connector) wrap(queue, op string, err error) error {
	if isQueueMissing(err) {
		s.mu.Lock()
		delete(s.urls, queue)
		s.mu.Unlock()
		return fmt.Errorf("sqjobs/sqs: %s %q: %w", op, queue, sqjobs.ErrQueueNotFound)
	}
	return fmt.Errorf("sqjobs/sqs: %s %q: %w", op, queue, err)
}

func isQueueMissing(err error) bool {
	var notExist *types.QueueDoesNotExist
	if errors.As(err, &notExist) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AWS.SimpleQueueService.NonExistentQueue", "QueueDoesNotExist":
			return true
		}
	}
	return false
}

func isInvalidHandle(err error) bool {
	var invalid *types.ReceiptHandleIsInvalid
	if errors.As(err, &invalid) {
		return true
	}
	var notInFlight *types.MessageNotInflight
	if errors.As(err, &notInFlight) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ReceiptHandleIsInvalid", "InvalidParameterValue":
			return true
		}
	}
	return false
}
