package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mlcopy/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisTokenCache stores account access tokens with a TTL so parallel
// workers don't each hit the token endpoint.
type RedisTokenCache struct {
	client *redis.Client
}

// NewRedisClient creates a redis client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisTokenCache(client *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{client: client}
}

func (r *RedisTokenCache) Get(ctx context.Context, account string) (string, error) {
	if r.client == nil {
		return "", errors.New("redis client is nil")
	}
	val, err := r.client.Get(ctx, tokenKey(account)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get token from redis: %w", err)
	}
	return val, nil
}

func (r *RedisTokenCache) Set(ctx context.Context, account, token string, ttl time.Duration) error {
	if r.client == nil {
		return errors.New("redis client is nil")
	}
	if err := r.client.Set(ctx, tokenKey(account), token, ttl).Err(); err != nil {
		return fmt.Errorf("set token in redis: %w", err)
	}
	return nil
}

func (r *RedisTokenCache) Delete(ctx context.Context, account string) error {
	if r.client == nil {
		return errors.New("redis client is nil")
	}
	if err := r.client.Del(ctx, tokenKey(account)).Err(); err != nil {
		return fmt.Errorf("delete token from redis: %w", err)
	}
	return nil
}

func tokenKey(account string) string {
	return fmt.Sprintf("token:%s", account)
}

// Ping checks the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}
