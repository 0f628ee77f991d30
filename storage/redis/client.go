// Package redis implements the identity stores on top of go-redis.
//
// Every adapter shares one Client and one key prefix. Values are stored as JSON
// strings except ledger entries, which are hashes so revocation can be flipped by a
// server-side script.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pilacorp/go-identity-sdk/storage"
)

const (
	backend = "redis"

	// DefaultKeyPrefix namespaces every key written by the adapters.
	DefaultKeyPrefix = "identity:"
)

// Config holds the connection settings of a Client.
type Config struct {
	URL          string
	KeyPrefix    string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Client wraps the go-redis client with the key prefix used by the stores.
type Client struct {
	*redis.Client

	prefix string
}

// New connects to the server named by cfg.URL and pings it.
func New(ctx context.Context, cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}

	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}

	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, storage.Unavailable("redis ping", err)
	}

	return Wrap(client, cfg.KeyPrefix), nil
}

// Wrap uses an existing go-redis client. An empty prefix means DefaultKeyPrefix.
func Wrap(client *redis.Client, prefix string) *Client {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &Client{Client: client, prefix: prefix}
}

// Health checks if the Redis connection is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

func (c *Client) key(kind, id string) string {
	return c.prefix + kind + ":" + id
}

// mapErr translates go-redis errors into storage sentinels.
func mapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	default:
		return storage.Unavailable(op, err)
	}
}
