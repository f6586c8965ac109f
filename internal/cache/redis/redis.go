package redis

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/lrg1763/BarterswapWeb/internal/cache"
)

// Cache satisfies the cache.Cache interface using a go-redis v9 client.
type Cache struct {
	client *redis.Client
}

// New connects to redis at the given URL and verifies it with a ping.
func New(url string) (*Cache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Cache{client: c}, nil
}

// Ensure interface compliance at compile time
var _ cache.Cache = (*Cache)(nil)

func (r *Cache) Get(ctx context.Context, key string) (string, error) {
	res, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", cache.ErrMiss
	}
	if err != nil {
		return "", err
	}
	return res, nil
}

func (r *Cache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Cache) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return r.client.Del(ctx, keys...).Result()
}

func (r *Cache) Close() error {
	return r.client.Close()
}
