package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/config"
)

// NewUniversalClient builds a client for single, sentinel or cluster mode and pings it.
func NewUniversalClient(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	addrs := cfg.Addrs
	if len(addrs) == 0 {
		if cfg.Addr == "" {
			return nil, fmt.Errorf("redis: addr or addrs must be set")
		}
		addrs = []string{cfg.Addr}
	}

	opts := &redis.UniversalOptions{
		Addrs:    addrs,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	mode := cfg.Mode
	var client redis.UniversalClient
	switch mode {
	case "", "single":
		mode = "single"
		opts.Addrs = addrs[:1]
	case "sentinel":
		if cfg.MasterName == "" {
			return nil, fmt.Errorf("redis: sentinel mode requires masterName")
		}
		opts.MasterName = cfg.MasterName
	case "cluster":
		// a single seed address must still get a cluster client
		client = redis.NewClusterClient(opts.Cluster())
	default:
		return nil, fmt.Errorf("redis: unsupported mode %q", mode)
	}
	if client == nil {
		client = redis.NewUniversalClient(opts)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: connect (mode %s, addrs %v): %w", mode, addrs, err)
	}
	return client, nil
}
