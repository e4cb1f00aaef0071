package redis

import "github.com/redis/go-redis/v9"

// receiveScript claims the first visible message.
//
// KEYS[1] visible zset, KEYS[2] handles hash
// ARGV[1] now (ms), ARGV[2] visibility (ms), ARGV[3] new handle,
// ARGV[4] message key prefix
//
// Returns {id, body, sent_at, receive_count, first_received_at} or nil.
var receiveScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
	return false
end
local id = ids[1]
local mkey = ARGV[4] .. id
if redis.call('EXISTS', mkey) == 0 then
	redis.call('ZREM', KEYS[1], id)
	return false
end
local old = redis.call('HGET', mkey, 'handle')
if old then
	redis.call('HDEL', KEYS[2], old)
end
redis.call('ZADD', KEYS[1], tonumber(ARGV[1]) + tonumber(ARGV[2]), id)
local count = redis.call('HINCRBY', mkey, 'receive_count', 1)
redis.call('HSETNX', mkey, 'first_received_at', ARGV[1])
redis.call('HSET', mkey, 'handle', ARGV[3])
redis.call('HSET', KEYS[2], ARGV[3], id)
return {id, redis.call('HGET', mkey, 'body'), redis.call('HGET', mkey, 'sent_at'), count, redis.call('HGET', mkey, 'first_received_at')}
`)

// deleteScript removes the message behind a live handle.
//
// KEYS[1] visible zset, KEYS[2] handles hash
// ARGV[1] handle, ARGV[2] message key prefix
var deleteScript = redis.NewScript(`
local id = redis.call('HGET', KEYS[2], ARGV[1])
if not id then
	return 0
end
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[1], id)
redis.call('DEL', ARGV[2] .. id)
return 1
`)

// retryScript moves the message behind a live handle to a new visibility
// time.
//
// KEYS[1] visible zset, KEYS[2] handles hash
// ARGV[1] handle, ARGV[2] visible-at (ms)
var retryScript = redis.NewScript(`
local id = redis.call('HGET', KEYS[2], ARGV[1])
if not id then
	return 0
end
redis.call('ZADD', KEYS[1], 'XX', ARGV[2], id)
return 1
`)
