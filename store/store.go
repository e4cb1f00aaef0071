package store

import (
	"context"

	"github.com/xraph/sqjobs/dlq"
)

// Store is a dead letter backend with a lifecycle.
type Store interface {
	dlq.Store

	// Migrate creates or upgrades the schema. It is safe to run on every
	// start.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
