// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"axonflow/erplink/erp/base"
)

// DefaultCacheTTL bounds how long a resolved create result is remembered.
// The remote lookup still catches duplicates past the TTL.
const DefaultCacheTTL = 24 * time.Hour

// RedisCache stores resolved create results in Redis so retried creates
// across process restarts and replicas skip the remote lookup. Failures
// degrade to the remote lookup; the cache never blocks a create.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis at the given URL
// (format: redis://host:port or redis://host:port/db).
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) key(ref string) string {
	return "erplink:idem:" + ref
}

// Get returns a previously resolved result for the reference.
func (c *RedisCache) Get(ctx context.Context, ref string) (*base.Result, bool) {
	data, err := c.client.Get(ctx, c.key(ref)).Bytes()
	if err != nil {
		return nil, false
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, false
	}
	return &base.Result{StatusCode: 200, Body: body}, true
}

// Put remembers the resolved result for the reference.
func (c *RedisCache) Put(ctx context.Context, ref string, res *base.Result) {
	if res == nil || res.Body == nil {
		return
	}
	data, err := json.Marshal(res.Body)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.key(ref), data, c.ttl).Err()
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
