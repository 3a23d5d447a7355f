// Package redis provides the Redis client and the services built on it:
// change fan-out for live views, event idempotency, display dedup and
// per-supplier rate limiting.
package redis

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultPoolSize = 10

// Config holds Redis connection settings.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	// PoolSize bounds pooled command connections. Live watchers hold their
	// own pub/sub connections outside the pool. Zero uses the default.
	PoolSize int
}

// Addr is the host:port the client dials.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) options() *redis.Options {
	pool := c.PoolSize
	if pool <= 0 {
		pool = defaultPoolSize
	}
	return &redis.Options{
		Addr:         c.Addr(),
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     pool,
		MinIdleConns: min(2, pool),
		PoolTimeout:  4 * time.Second,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Client is the shared connection used by every Redis-backed component.
type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New dials Redis and pings it. The gateway treats an error as "run
// single-instance" rather than fatal.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	opts := cfg.options()
	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s failed: %w", opts.Addr, err)
	}

	logger.Info("redis connection established",
		zap.String("addr", opts.Addr),
		zap.Int("db", cfg.DB),
		zap.Int("pool_size", opts.PoolSize),
	)

	return &Client{rdb: rdb, logger: logger}, nil
}

// Wrap adapts an existing go-redis client, used by tests running against
// miniredis.
func Wrap(rdb *redis.Client, logger *zap.Logger) *Client {
	return &Client{rdb: rdb, logger: logger}
}

// Close releases the pool. Open watchers end with ErrFeedClosed.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping is the health check registered for the gateway.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
