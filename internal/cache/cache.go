package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"

	"github.com/tumapay/tuma/config"
	redis_db "github.com/tumapay/tuma/internal/redis-db"
)

// Cache is the read-through cache in front of the balance store. Misses are
// reported as nil errors with the target left untouched, so callers fall
// back to the datasource.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, data interface{}) error
	Delete(ctx context.Context, key string) error
}

// cacheSize is the local (in-process) cache capacity in entries.
const cacheSize = 128000

type RedisCache struct {
	cache *cache.Cache
}

// NewCache connects to the configured redis and layers a TinyLFU local
// cache over it.
func NewCache() (Cache, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	client, err := redis_db.NewRedisClient([]string{cfg.Redis.Dns})
	if err != nil {
		return nil, err
	}
	return newRedisCache(client.Client()), nil
}

// NewCacheWithClient wraps an existing redis client, used by tests.
func NewCacheWithClient(client redis.UniversalClient) Cache {
	return newRedisCache(client)
}

func newRedisCache(client redis.UniversalClient) *RedisCache {
	c := cache.New(&cache.Options{
		Redis:      client,
		LocalCache: cache.NewTinyLFU(cacheSize, 1*time.Minute),
	})
	return &RedisCache{cache: c}
}

func (r *RedisCache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
	})
}

// Get decodes the cached value into data. A cache miss is not an error.
func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) error {
	err := r.cache.Get(ctx, key, &data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}
