// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"axonflow/erplink/erp/base"
)

func newTestRedisCache(t *testing.T) *RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache("redis://"+mr.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisCache failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisCacheRoundTrip(t *testing.T) {
	c := newTestRedisCache(t)
	ctx := context.Background()

	res := &base.Result{StatusCode: 200, Body: map[string]any{"OrderNbr": "SO-001"}}
	c.Put(ctx, "order-42", res)

	got, ok := c.Get(ctx, "order-42")
	if !ok {
		t.Fatal("cached result not found")
	}
	if got.Body["OrderNbr"] != "SO-001" {
		t.Errorf("Body = %v", got.Body)
	}
}

func TestRedisCacheMiss(t *testing.T) {
	c := newTestRedisCache(t)
	if _, ok := c.Get(context.Background(), "never-seen"); ok {
		t.Error("unexpected hit")
	}
}

func TestRedisCacheIgnoresEmptyResults(t *testing.T) {
	c := newTestRedisCache(t)
	ctx := context.Background()

	c.Put(ctx, "empty", nil)
	c.Put(ctx, "empty", &base.Result{StatusCode: 200})
	if _, ok := c.Get(ctx, "empty"); ok {
		t.Error("empty result should not be cached")
	}
}

func TestNewRedisCacheBadURL(t *testing.T) {
	if _, err := NewRedisCache("not-a-url", 0); err == nil {
		t.Error("invalid URL should fail")
	}
	if _, err := NewRedisCache("redis://127.0.0.1:1", 0); err == nil {
		t.Error("unreachable server should fail the ping")
	}
}
