// Package store is the backend contract for dead letter persistence.
//
// Transports keep live messages. A [Store] keeps only the jobs that ran
// out of retries, for inspection, replay and purging. It is a [dlq.Store]
// plus Migrate, Ping and Close.
//
// Backends, all passing store/storetest:
//
//   - store/memory: process memory
//   - store/postgres: the sqjobs_dlq table, via pgx/v5
//   - store/redis: msgpack blobs indexed by sorted sets, via go-redis/v9
//
// engine.OpenDLQStore picks one from SQJOBS_DLQ_BACKEND and migrates it:
//
//	s, err := postgres.New(ctx, os.Getenv("DATABASE_URL"))
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil {
//	    return err
//	}
//	svc := dlq.NewService(s, broker)
package store
