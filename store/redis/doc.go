// Package redis implements store.Store on Redis. Entries are Hashes; a
// Sorted Set scored by failure time orders them globally and a second one
// per queue backs filtered listing.
//
// The caller owns the client lifecycle; Close never closes it:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
