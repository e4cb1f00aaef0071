package redis

const defaultKeyPrefix = "sqjobs:"

// keys names every Redis key the store touches. With the default prefix:
//
//	sqjobs:dlq:entries        Hash   entry ID → msgpack-encoded entry
//	sqjobs:dlq:failed         ZSet   entry IDs scored by failure time (unix ms)
//	sqjobs:dlq:queue:{name}   ZSet   the same, for one queue
//	sqjobs:dlq:queues         Set    queue names that have had entries
type keys struct{ prefix string }

func (k keys) entries() string          { return k.prefix + "dlq:entries" }
func (k keys) failed() string           { return k.prefix + "dlq:failed" }
func (k keys) queue(name string) string { return k.prefix + "dlq:queue:" + name }
func (k keys) queues() string           { return k.prefix + "dlq:queues" }
