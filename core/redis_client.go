// Package core provides the shared Redis connection used by the queue
// broker, worker registry, and any other component that needs direct
// go-redis access.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisClientOptions configures the shared Redis connection.
type RedisClientOptions struct {
	RedisURL string
	Logger   Logger // Optional logger
}

// NewRedisClient parses redisURL, dials, and verifies connectivity with a
// bounded ping before handing back the raw client that queue.Broker and
// queue.WorkerRegistry share.
func NewRedisClient(opts RedisClientOptions) (*redis.Client, error) {
	if opts.RedisURL == "" {
		if opts.Logger != nil {
			opts.Logger.Error("failed to initialize redis client", map[string]interface{}{
				"error": "redis URL is required",
			})
		}
		return nil, fmt.Errorf("redis URL is required: %w", ErrInvalidConfiguration)
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		if opts.Logger != nil {
			opts.Logger.Error("failed to parse redis URL", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return nil, fmt.Errorf("invalid Redis URL: %w", ErrInvalidConfiguration)
	}

	client := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		if opts.Logger != nil {
			opts.Logger.Error("failed to connect to redis", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return nil, fmt.Errorf("failed to connect to Redis: %w", ErrConnectionFailed)
	}

	if opts.Logger != nil {
		opts.Logger.Info("redis client connected", nil)
	}
	return client, nil
}

// RedisHealthCheck verifies Redis connectivity with a single PING. (The
// HTTP /health handler checks Redis through queue.Broker.Ping instead.)
func RedisHealthCheck(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}
