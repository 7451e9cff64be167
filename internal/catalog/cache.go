package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCacheTTL = 5 * time.Minute

// Cache is a read-through copy of catalog documents in Redis. The zero value
// and a nil *Cache are valid and never hit.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) enabled() bool { return c != nil && c.client != nil }

func productKey(id string) string  { return "catalog:product:" + id }
func customerKey(id string) string { return "catalog:customer:" + id }

// cached reports a hit only for a present, decodable entry; Redis errors are
// returned so callers can log them and fall back to the store.
func cached[T any](ctx context.Context, c *Cache, key string) (T, bool, error) {
	var v T
	if !c.enabled() {
		return v, false, nil
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return v, false, nil
	case err != nil:
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, err
	}
	return v, true, nil
}

func (c *Cache) put(ctx context.Context, key string, v any) error {
	if !c.enabled() {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

func (c *Cache) forget(ctx context.Context, keys ...string) error {
	if !c.enabled() || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
