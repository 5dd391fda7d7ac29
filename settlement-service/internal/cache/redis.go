package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxJitterMinutes = 3

func NewRedisCache(client *redis.Client, baseTTL time.Duration) *RedisCache {
	if baseTTL <= 0 {
		baseTTL = 10 * time.Minute
	}
	return &RedisCache{
		client:  client,
		baseTTL: baseTTL,
	}
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

var _ StatusCache = RedisCache{}

func (r RedisCache) Get(ctx context.Context, orderID string) (*PaymentStatus, error) {
	data, err := r.client.Get(ctx, cacheKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var status PaymentStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("unmarshal payment status failed: %w", err)
	}
	return &status, nil
}

func (r RedisCache) Set(ctx context.Context, status *PaymentStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal payment status failed: %w", err)
	}

	jitter := time.Duration(rand.Intn(maxJitterMinutes+1)) * time.Minute
	if err := r.client.Set(ctx, cacheKey(status.OrderID), data, r.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r RedisCache) Delete(ctx context.Context, orderID string) error {
	if err := r.client.Del(ctx, cacheKey(orderID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(orderID string) string {
	return fmt.Sprintf("payment-status:%s", orderID)
}
