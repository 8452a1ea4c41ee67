package cachestore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

type redisBackend struct {
	c   *cache.Cache
	ttl time.Duration
}

// NewRedisSignalCache shares cached sets between daemons through redis, with a small local LFU in front.
// It fails fast if the server can not be reached.
func NewRedisSignalCache(ctx context.Context, redisURL string, ttl time.Duration, version string, logger *slog.Logger) (*SignalCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	b := redisBackend{
		c: cache.New(&cache.Options{
			Redis:      rdb,
			LocalCache: cache.NewTinyLFU(10_000, min(ttl, time.Minute)),
		}),
		ttl: ttl,
	}
	return newSignalCache(b, "harmlens/", version, logger), nil
}

func (r redisBackend) get(ctx context.Context, key string) ([]byte, error) {
	var val []byte
	err := r.c.Get(ctx, key, &val)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	return val, err
}

func (r redisBackend) set(ctx context.Context, key string, val []byte) error {
	return r.c.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: val,
		TTL:   r.ttl,
	})
}

func (r redisBackend) del(ctx context.Context, key string) error {
	err := r.c.Delete(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}
