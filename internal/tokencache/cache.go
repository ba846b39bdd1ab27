// Package tokencache provides a Redis-backed, best-effort hint cache for
// CloudWatch Logs sequence tokens.
//
// The Uploader reads it once at construction as the initial token, then
// still runs its own refresh_token call against the remote API, which
// replaces the hint whenever the stream can be described. The hint is
// kept only when that describe yields no stream; no DescribeLogStreams
// call is skipped. A miss, an error, or no configured cache at all are
// all equivalent to having no hint.
package tokencache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "journald-to-cloudwatch:seqtoken:"
	tokenTTL  = 24 * time.Hour
)

// Cache is a Redis-backed TokenCache.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

// New connects to Redis at redisURL and verifies the connection with a
// ping before returning.
func New(redisURL string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Cache{client: client, logger: logger}, nil
}

// Get returns the cached sequence token hint for streamKey. Any error is
// treated as a miss and logged at debug level; callers must never treat a
// Get failure as fatal.
func (c *Cache) Get(ctx context.Context, streamKey string) (string, bool) {
	token, err := c.client.Get(ctx, keyPrefix+streamKey).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		c.logger.Debug("token cache get failed", "stream", streamKey, "error", err)
		return "", false
	}
	return token, true
}

// Set stores the sequence token hint for streamKey with a TTL, so that a
// stream abandoned for a day no longer offers a hint for it.
func (c *Cache) Set(ctx context.Context, streamKey, token string) {
	if err := c.client.Set(ctx, keyPrefix+streamKey, token, tokenTTL).Err(); err != nil {
		c.logger.Debug("token cache set failed", "stream", streamKey, "error", err)
	}
}

// Close releases the underlying Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
