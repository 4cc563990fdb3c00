package auth

import (
	"context"
	"encoding/json"
	"time"

	"aerobase.org/internal/cache"
	"aerobase.org/internal/obs"
)

const sessionNamespace = "sessions"

// SessionCache is the cache-aside store for authorization snapshots. Store
// failures are absorbed: a broken cache reads as a miss and writes become
// logged no-ops, so authorization falls back to the credential payload instead
// of failing the request.
type SessionCache struct {
	store cache.Store
	ttl   time.Duration
}

// NewSessionCache wraps the given store. A non-positive ttl falls back to the
// session default.
func NewSessionCache(store cache.Store, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = cache.SessionTTL
	}
	return &SessionCache{store: store, ttl: ttl}
}

func sessionKey(userID string) string {
	return sessionNamespace + ":" + userID
}

// Get returns the cached snapshot for the subject, if present.
func (c *SessionCache) Get(ctx context.Context, userID string) (SessionRecord, bool) {
	data, ok, err := c.store.Get(ctx, sessionKey(userID))
	if err != nil {
		obs.ObserveCache(sessionNamespace, "error")
		obs.LogEvent("warn", "session cache get failed", map[string]any{"user_id": userID, "error": err.Error()})
		return SessionRecord{}, false
	}
	if !ok {
		obs.ObserveCache(sessionNamespace, "miss")
		return SessionRecord{}, false
	}
	var record SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		obs.ObserveCache(sessionNamespace, "error")
		obs.LogEvent("warn", "session cache decode failed", map[string]any{"user_id": userID, "error": err.Error()})
		return SessionRecord{}, false
	}
	obs.ObserveCache(sessionNamespace, "hit")
	return record, true
}

// Put stores or refreshes the snapshot for its subject.
func (c *SessionCache) Put(ctx context.Context, record SessionRecord) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(record)
	if err != nil {
		obs.LogEvent("warn", "session cache encode failed", map[string]any{"user_id": record.UserID, "error": err.Error()})
		return
	}
	if err := c.store.Set(ctx, sessionKey(record.UserID), data, c.ttl); err != nil {
		obs.LogEvent("warn", "session cache set failed", map[string]any{"user_id": record.UserID, "error": err.Error()})
	}
}

// Invalidate synchronously removes the snapshots for every affected subject.
// Callers must invoke it before acknowledging any mutation that changes roles,
// tenant, user type or active status; invalidating an absent id is a no-op.
func (c *SessionCache) Invalidate(ctx context.Context, userIDs ...string) {
	for _, id := range userIDs {
		if err := c.store.Del(ctx, sessionKey(id)); err != nil {
			obs.LogEvent("warn", "session invalidate failed", map[string]any{"user_id": id, "error": err.Error()})
		}
	}
}
