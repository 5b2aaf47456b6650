// Package messaging holds the queued intake channel: Redis Streams
// producer/consumer, the per-message Redis lock, and the Pub/Sub subscriber.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"triage_server/pkg/apperr"
)

const redisService = "redis"

// NewRedisClient connects to redisURL and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, apperr.ConfigError("invalid REDIS_URL").WithError(err)
	}
	opts.PoolSize = 20
	opts.MinIdleConns = 2
	opts.ReadTimeout = 10 * time.Second // above the XREADGROUP block time

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, apperr.Transient(redisService, fmt.Errorf("ping: %w", err))
	}
	return client, nil
}

// RedisHealth adapts a Redis client to out.Pinger.
type RedisHealth struct {
	client *redis.Client
}

func NewRedisHealth(client *redis.Client) *RedisHealth {
	return &RedisHealth{client: client}
}

func (h *RedisHealth) Ping(ctx context.Context) error {
	if err := h.client.Ping(ctx).Err(); err != nil {
		return apperr.Transient(redisService, err)
	}
	return nil
}
