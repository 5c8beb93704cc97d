package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache хранилище рекомендаций в Redis
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache оборачивает готовый клиент
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Dial подключается к Redis и проверяет соединение
func Dial(ctx context.Context, addr string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedisCache(client), nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
