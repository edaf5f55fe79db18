// Package redisstore provides a Redis-backed credstore.Store. Each partition
// is a single hash under a configurable key prefix, written atomically in a
// MULTI/EXEC pipeline so readers never observe a half-written pair.
//
// Configuration can be loaded from the environment:
//
//	REDIS_ADDR             (default "localhost:6379")
//	AUTH_STORE_KEY_PREFIX  (default "authsession:cred:")
//
// Example:
//
//	store, err := redisstore.NewFromEnv()
//	if err != nil { log.Fatal(err) }
//	defer store.Close()
//
// Redis offers no platform access gate; the access control passed to Put is
// recorded as metadata only.
package redisstore
