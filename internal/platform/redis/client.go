// Package redis builds the shared go-redis client used by the membership
// store and the delivery ledger.
package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"kinwatch/internal/platform/config"
)

// KeyPrefix namespaces every key kinwatch writes.
const KeyPrefix = "kinwatch:"

// Client is a connected go-redis client.
type Client struct {
	*redis.Client
}

// New connects using cfg and verifies the server answers a PING. It returns
// nil, nil when no URL is configured.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{Client: client}, nil
}

func (c *Client) Health(ctx context.Context) error {
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unhealthy: %w", err)
	}
	return nil
}

// Key joins parts under KeyPrefix, e.g. Key("delivered", id) is
// "kinwatch:delivered:<id>".
func Key(parts ...string) string {
	return KeyPrefix + strings.Join(parts, ":")
}
