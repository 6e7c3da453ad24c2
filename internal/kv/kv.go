// Package kv defines the narrow KVStore interface the rate limiter and
// response cache are built on (§1: "the shared key-value store used by
// limiter/cache, consumed through a narrow KVStore interface"), plus two
// concrete adapters: a Redis-backed store for production and an in-memory
// store for local runs and tests.
package kv

import (
	"context"
	"time"
)

// Store is a TTL-scoped key/value store: get, set-with-ttl, delete, and an
// atomic increment that applies a TTL only on the first increment of a
// window.
type Store interface {
	// Get returns the stored value and true, or ("", false) on miss.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Del removes key, if present.
	Del(ctx context.Context, key string) error
	// Incr atomically increments key by 1 and returns the post-increment
	// value. ttl is applied only when the pre-increment value was 0 (i.e.
	// this call started a fresh window).
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
