package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/sqjobs/store"
)

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger that reports unreadable entries.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithKeyPrefix namespaces every key. The default is "sqjobs:".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keys = keys{prefix: prefix} }
}

// Store keeps dead letter entries in Redis.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
	keys   keys
}

// New returns a Store over client. The caller keeps ownership of client.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client: client,
		logger: slog.Default(),
		keys:   keys{prefix: defaultKeyPrefix},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client returns the client the store was built with.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate has nothing to do; the layout is created on first write.
func (s *Store) Migrate(context.Context) error { return nil }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("sqjobs/redis: ping: %w", err)
	}
	return nil
}

// Close does not close the client.
func (s *Store) Close() error { return nil }
