// Package cache implements the read-through response cache for idempotent
// upstream GETs (spec §4.5), keyed memoization over internal/kv.Store.
//
// Grounded on HabrielStark-invariant/pkg/store/cache.go's dual
// Redis/in-memory Cache interface, generalized to the gateway's cache-key
// format and TTL defaults.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/riftgate/gateway/internal/kv"
)

// Default TTLs per spec §4.5.
const (
	DefaultItemTTL = 300 * time.Second
	DefaultListTTL = 600 * time.Second
)

// Cache is the response cache. It is opt-in per call site; a KV failure is
// a transparent miss, never an error surfaced to the caller.
type Cache struct {
	store  kv.Store
	logger *slog.Logger
}

// New constructs a Cache over store.
func New(store kv.Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, logger: logger}
}

// Key builds the cache key `<upstream>:<tenant>:<resource>[:<id>]…`.
func Key(upstream, tenant, resource string, idParts ...string) string {
	parts := append([]string{upstream, tenant, resource}, idParts...)
	return strings.Join(parts, ":")
}

// Get returns the cached body and true on hit, or (nil, false) on miss —
// including on any KV error, which is logged and treated as a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("response cache KV failure, treating as miss",
			slog.String("key", key), slog.String("error", err.Error()))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return []byte(val), true
}

// Set stores body under key with the given TTL. KV errors are logged and
// swallowed — caching is best-effort.
func (c *Cache) Set(ctx context.Context, key string, body []byte, ttl time.Duration) {
	if err := c.store.Set(ctx, key, string(body), ttl); err != nil {
		c.logger.Warn("response cache set failed",
			slog.String("key", key), slog.String("error", err.Error()))
	}
}

// Invalidate removes every given key, e.g. the item key plus related list
// and aggregate keys after a write/update/delete.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := c.store.Del(ctx, key); err != nil {
			c.logger.Warn("response cache invalidate failed",
				slog.String("key", key), slog.String("error", err.Error()))
		}
	}
}
