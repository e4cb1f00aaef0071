package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/sqjobs"
	"github.com/xraph/sqjobs/codec"
	"github.com/xraph/sqjobs/connector"
	amqpconn "github.com/xraph/sqjobs/connector/amqp"
	memconn "github.com/xraph/sqjobs/connector/memory"
	redisconn "github.com/xraph/sqjobs/connector/redis"
	sqsconn "github.com/xraph/sqjobs/connector/sqs"
	"github.com/xraph/sqjobs/store"
	memstore "github.com/xraph/sqjobs/store/memory"
	pgstore "github.com/xraph/sqjobs/store/postgres"
	redisstore "github.com/xraph/sqjobs/store/redis"
)

// Transport names accepted by OpenConnector.
const (
	TransportSQS    = "sqs"
	TransportRedis  = "redis"
	TransportAMQP   = "amqp"
	TransportMemory = "memory"
)

// DLQ backend names accepted by OpenDLQStore.
const (
	DLQMemory   = "memory"
	DLQRedis    = "redis"
	DLQPostgres = "postgres"
	DLQNone     = "none"
)

// OpenConnector opens the transport named by cfg.Transport. The caller
// closes the returned connector.
func OpenConnector(ctx context.Context, cfg *sqjobs.Config) (connector.Connector, error) {
	c, err := codec.Lookup(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("sqjobs/engine: %w", err)
	}

	switch cfg.Transport {
	case TransportSQS:
		if c.Name() != codec.NameJSON {
			return nil, fmt.Errorf("sqjobs/engine: sqs bodies must be text, codec %q is not supported", c.Name())
		}
		conn, err := sqsconn.Open(ctx, sqsconn.Config{
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Endpoint:        cfg.SQSEndpoint,
		}, sqsconn.WithCodec(c))
		if err != nil {
			return nil, err
		}
		return conn, nil

	case TransportRedis:
		conn, err := redisconn.Open(ctx, redisOptions(cfg),
			redisconn.WithCodec(c),
			redisconn.WithVisibilityTimeout(cfg.VisibilityTimeout),
		)
		if err != nil {
			return nil, err
		}
		if err := conn.CreateQueue(ctx, cfg.Queue); err != nil {
			_ = conn.Close() //nolint:errcheck // already failing
			return nil, err
		}
		return conn, nil

	case TransportAMQP:
		opts := []amqpconn.Option{
			amqpconn.WithCodec(c),
			amqpconn.WithVisibilityTimeout(cfg.VisibilityTimeout),
		}
		if cfg.AMQPQuorum {
			opts = append(opts, amqpconn.WithQuorumQueues())
		}
		conn, err := amqpconn.Dial(cfg.AMQPURL, opts...)
		if err != nil {
			return nil, err
		}
		if err := conn.CreateQueue(ctx, cfg.Queue); err != nil {
			_ = conn.Close() //nolint:errcheck // already failing
			return nil, err
		}
		return conn, nil

	case TransportMemory:
		return memconn.New(
			memconn.WithQueues(cfg.Queue),
			memconn.WithCodec(c),
			memconn.WithVisibilityTimeout(cfg.VisibilityTimeout),
		), nil

	default:
		return nil, fmt.Errorf("sqjobs/engine: unknown transport %q", cfg.Transport)
	}
}

// OpenDLQStore opens the dead letter store named by cfg.DLQBackend and
// applies its migrations. It returns a nil store for "none"; jobs past
// their retry budget are then dropped.
func OpenDLQStore(ctx context.Context, cfg *sqjobs.Config, logger *slog.Logger) (store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		s   store.Store
		err error
	)
	switch cfg.DLQBackend {
	case DLQNone, "":
		return nil, nil
	case DLQMemory:
		s = memstore.New()
	case DLQRedis:
		client := goredis.NewClient(redisOptions(cfg))
		s = &redisDLQ{
			Store:  redisstore.New(client, redisstore.WithLogger(logger)),
			client: client,
		}
	case DLQPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("sqjobs/engine: postgres dlq backend needs DATABASE_URL")
		}
		s, err = pgstore.New(ctx, cfg.DatabaseURL, pgstore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("sqjobs/engine: unknown dlq backend %q", cfg.DLQBackend)
	}

	if err := s.Ping(ctx); err != nil {
		_ = s.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("sqjobs/engine: dlq store: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("sqjobs/engine: dlq store: %w", err)
	}
	return s, nil
}

func redisOptions(cfg *sqjobs.Config) *goredis.Options {
	return &goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

var _ store.Store = (*redisDLQ)(nil)

// redisDLQ closes the client it was opened with.
type redisDLQ struct {
	*redisstore.Store
	client *goredis.Client
}

func (r *redisDLQ) Close() error { return r.client.Close() }
