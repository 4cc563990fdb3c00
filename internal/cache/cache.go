package cache

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"aerobase.org/internal/obs"
)

// Store is the external key/value contract the caching layer runs against.
// Implementations must treat deletion of a missing key as a no-op.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	DelMany(ctx context.Context, keys []string) error
	Close() error
}

// TTL tunables. Freshness is guaranteed by write-through invalidation on every
// mutation; these only bound how long an entry can linger after process crash.
const (
	ListTTL    = 2 * time.Minute
	DetailTTL  = 5 * time.Minute
	SessionTTL = 30 * time.Minute
)

// QueryCache is a cache-aside read-through layer for list/detail queries.
// Store failures are absorbed: a broken cache degrades to a miss, never to a
// failed request.
type QueryCache struct {
	store Store
}

// New wraps the given store.
func New(store Store) *QueryCache {
	return &QueryCache{store: store}
}

// Key derives a deterministic cache key from the normalized query shape:
// filter fields are sorted so identical logical queries share an entry
// regardless of argument ordering.
func Key(namespace string, filters map[string]string, page, perPage int) string {
	var b strings.Builder
	b.WriteString(namespace)
	b.WriteByte(':')
	if len(filters) > 0 {
		fields := make([]string, 0, len(filters))
		for k, v := range filters {
			if v == "" {
				continue
			}
			fields = append(fields, k+"="+v)
		}
		sort.Strings(fields)
		b.WriteString(strings.Join(fields, "&"))
	}
	b.WriteByte(':')
	b.WriteString("p=" + strconv.Itoa(page) + ",n=" + strconv.Itoa(perPage))
	return b.String()
}

// DetailKey derives the cache key for a single-entity lookup.
func DetailKey(namespace, id string) string {
	return namespace + ":id=" + id
}

// GetJSON loads and decodes a cached value into dst. Returns false on miss,
// decode failure or store error.
func (c *QueryCache) GetJSON(ctx context.Context, key string, dst any) bool {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.observe(key, "error")
		obs.LogEvent("warn", "cache get failed", map[string]any{"key": key, "error": err.Error()})
		return false
	}
	if !ok {
		c.observe(key, "miss")
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.observe(key, "error")
		obs.LogEvent("warn", "cache decode failed", map[string]any{"key": key, "error": err.Error()})
		return false
	}
	c.observe(key, "hit")
	return true
}

// SetJSON encodes and stores a value under key with the given TTL.
func (c *QueryCache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		obs.LogEvent("warn", "cache encode failed", map[string]any{"key": key, "error": err.Error()})
		return
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		obs.LogEvent("warn", "cache set failed", map[string]any{"key": key, "error": err.Error()})
	}
}

// Invalidate removes the given keys. Missing keys are a no-op.
func (c *QueryCache) Invalidate(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := c.store.Del(ctx, key); err != nil {
			obs.LogEvent("warn", "cache invalidate failed", map[string]any{"key": key, "error": err.Error()})
		}
	}
}

// InvalidatePattern removes every key under the given prefix, e.g. all entries
// in the "resources:" namespace after a mutation.
func (c *QueryCache) InvalidatePattern(ctx context.Context, prefix string) {
	keys, err := c.store.Keys(ctx, prefix)
	if err != nil {
		obs.LogEvent("warn", "cache pattern scan failed", map[string]any{"prefix": prefix, "error": err.Error()})
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.store.DelMany(ctx, keys); err != nil {
		obs.LogEvent("warn", "cache pattern invalidate failed", map[string]any{"prefix": prefix, "error": err.Error()})
	}
}

func (c *QueryCache) observe(key, outcome string) {
	ns := key
	if i := strings.IndexByte(key, ':'); i > 0 {
		ns = key[:i]
	}
	obs.ObserveCache(ns, outcome)
}
