package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// reportCacheKey holds the precomputed report JSON written by the worker.
const reportCacheKey = "checkin:report"

// Redis wraps the redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// SetReport caches the rendered report JSON.
func (r *Redis) SetReport(ctx context.Context, data []byte, ttl time.Duration) error {
	return r.Client.Set(ctx, reportCacheKey, data, ttl).Err()
}

// GetReport returns the cached report JSON, or nil on miss.
func (r *Redis) GetReport(ctx context.Context) ([]byte, error) {
	data, err := r.Client.Get(ctx, reportCacheKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return data, err
}
