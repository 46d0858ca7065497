package store

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/voyagen/ccepg/internal/cache"
	"github.com/voyagen/ccepg/internal/models"
)

// Cache TTLs for different collections.
const (
	ttlChannels = 5 * time.Minute
	ttlEntries  = 5 * time.Minute
	ttlSetting  = 10 * time.Minute
)

// CachedStore wraps a Store with a Redis caching layer.
// Export reads (channel lists, assigned entries, settings) are served from
// cache when possible; writes invalidate the affected keys.
type CachedStore struct {
	inner Store
	cache *cache.Redis
}

// NewCachedStore creates a CachedStore that wraps inner with Redis caching.
func NewCachedStore(inner Store, c *cache.Redis) *CachedStore {
	return &CachedStore{inner: inner, cache: c}
}

// --- cached read operations ---

func (c *CachedStore) ListChannels(ctx context.Context, filter ChannelFilter) ([]models.Channel, error) {
	key := fmt.Sprintf("channels:%s", filterHash(filter))
	if v, err := cache.Get[[]models.Channel](ctx, c.cache, key); err == nil {
		return v, nil
	}
	channels, err := c.inner.ListChannels(ctx, filter)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, channels, ttlChannels)
	return channels, nil
}

func (c *CachedStore) ListAssignedEntries(ctx context.Context) ([]models.Entry, error) {
	const key = "entries:assigned"
	if v, err := cache.Get[[]models.Entry](ctx, c.cache, key); err == nil {
		return v, nil
	}
	entries, err := c.inner.ListAssignedEntries(ctx)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, entries, ttlEntries)
	return entries, nil
}

func (c *CachedStore) GetSetting(ctx context.Context, key string) (string, error) {
	ck := "setting:" + key
	if v, err := cache.Get[string](ctx, c.cache, ck); err == nil {
		return v, nil
	}
	v, err := c.inner.GetSetting(ctx, key)
	if err != nil {
		return "", err
	}
	c.set(ctx, ck, v, ttlSetting)
	return v, nil
}

// --- write operations with cache invalidation ---

func (c *CachedStore) InsertChannel(ctx context.Context, ch *models.Channel) error {
	if err := c.inner.InsertChannel(ctx, ch); err != nil {
		return err
	}
	c.invalidatePattern(ctx, "channels:*")
	return nil
}

func (c *CachedStore) UpdateChannel(ctx context.Context, ch *models.Channel) error {
	if err := c.inner.UpdateChannel(ctx, ch); err != nil {
		return err
	}
	c.invalidatePattern(ctx, "channels:*")
	return nil
}

func (c *CachedStore) SetChannelEnabled(ctx context.Context, provider, id string, enabled bool) error {
	if err := c.inner.SetChannelEnabled(ctx, provider, id, enabled); err != nil {
		return err
	}
	c.invalidatePattern(ctx, "channels:*")
	return nil
}

func (c *CachedStore) AssignEntry(ctx context.Context, key string, number int) error {
	if err := c.inner.AssignEntry(ctx, key, number); err != nil {
		return err
	}
	c.invalidate(ctx, "entries:assigned")
	return nil
}

func (c *CachedStore) DeleteUnassignedEntries(ctx context.Context, ingestedBefore time.Time) (int64, error) {
	// Unassigned entries are never cached.
	return c.inner.DeleteUnassignedEntries(ctx, ingestedBefore)
}

func (c *CachedStore) DeleteEndedEntries(ctx context.Context, t time.Time) (int64, error) {
	n, err := c.inner.DeleteEndedEntries(ctx, t)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.invalidate(ctx, "entries:assigned")
	}
	return n, nil
}

func (c *CachedStore) PutSetting(ctx context.Context, key, value string) error {
	if err := c.inner.PutSetting(ctx, key, value); err != nil {
		return err
	}
	c.invalidate(ctx, "setting:"+key)
	return nil
}

func (c *CachedStore) InitSetting(ctx context.Context, key, value string) (string, error) {
	v, err := c.inner.InitSetting(ctx, key, value)
	if err != nil {
		return "", err
	}
	c.invalidate(ctx, "setting:"+key)
	return v, nil
}

// --- passthrough (no caching) ---

func (c *CachedStore) GetChannel(ctx context.Context, provider, id string) (*models.Channel, error) {
	return c.inner.GetChannel(ctx, provider, id)
}

func (c *CachedStore) EntryExists(ctx context.Context, key string) (bool, error) {
	return c.inner.EntryExists(ctx, key)
}

func (c *CachedStore) InsertEntry(ctx context.Context, e *models.Entry) (bool, error) {
	return c.inner.InsertEntry(ctx, e)
}

func (c *CachedStore) ListUnassignedEntries(ctx context.Context) ([]models.Entry, error) {
	return c.inner.ListUnassignedEntries(ctx)
}

// --- helpers ---

func (c *CachedStore) set(ctx context.Context, key string, v any, ttl time.Duration) {
	if err := cache.Set(ctx, c.cache, key, v, ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache set")
	}
}

// invalidate deletes exact cache keys, logging any errors.
func (c *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if err := cache.Del(ctx, c.cache, keys...); err != nil && err != redis.Nil {
		log.Warn().Err(err).Strs("keys", keys).Msg("cache del")
	}
}

// invalidatePattern deletes all keys matching the given glob patterns.
func (c *CachedStore) invalidatePattern(ctx context.Context, patterns ...string) {
	for _, p := range patterns {
		if err := cache.DelPattern(ctx, c.cache, p); err != nil {
			log.Warn().Err(err).Str("pattern", p).Msg("cache del pattern")
		}
	}
}

// filterHash produces a short deterministic hash for a ChannelFilter so it
// can be used as part of a cache key.
func filterHash(f ChannelFilter) string {
	provider, enabled := "*", "*"
	if f.Provider != nil {
		provider = *f.Provider
	}
	if f.Enabled != nil {
		enabled = fmt.Sprintf("%t", *f.Enabled)
	}
	h := sha256.Sum256([]byte(provider + "|" + enabled))
	return fmt.Sprintf("%x", h[:8])
}
