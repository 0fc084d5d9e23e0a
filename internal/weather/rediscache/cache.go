// Package rediscache stores weather day series in Redis so API replicas
// share lookups.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/transitx/transitx/internal/weather"
)

// Cache implements weather.Cache on Redis.
type Cache struct {
	client redis.UniversalClient
	prefix string
}

// New wraps client. Keys are stored under prefix.
func New(client redis.UniversalClient, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

// Open parses a redis:// URL and pings the server.
func Open(ctx context.Context, url, prefix string) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return New(client, prefix), nil
}

// Get returns the cached series, or false on a miss.
func (c *Cache) Get(ctx context.Context, key string) (*weather.DaySeries, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var day weather.DaySeries
	if err := json.Unmarshal(raw, &day); err != nil {
		return nil, false, fmt.Errorf("decoding cached series: %w", err)
	}
	return &day, true, nil
}

// Set stores day for ttl.
func (c *Cache) Set(ctx context.Context, key string, day *weather.DaySeries, ttl time.Duration) error {
	raw, err := json.Marshal(day)
	if err != nil {
		return fmt.Errorf("encoding series: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client.
func (c *Cache) Close() error {
	return c.client.Close()
}
