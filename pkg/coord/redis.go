// Package coord implements coordination-store primitives shared across
// process replicas: the umbrella concurrency manager and the umbrella
// resolver cache. All counter mutations are atomic Lua scripts so no
// in-process counter is ever trusted.
package coord

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cadencehq/cadence/pkg/config"
)

// NewRedisClient connects to the coordination store and verifies the
// connection with a ping.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}
