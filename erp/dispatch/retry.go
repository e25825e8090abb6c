// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package dispatch

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig bounds the retry loop for transient failures. Each attempt's
// delay is InitialInterval * Multiplier^attempt plus jitter, capped at
// MaxInterval.
type RetryConfig struct {
	MaxAttempts     int           // total attempts including the first
	InitialInterval time.Duration // base delay before the first retry
	MaxInterval     time.Duration // delay ceiling
	Multiplier      float64       // backoff multiplier
	Jitter          float64       // jitter factor (0-1)
}

// DefaultRetryConfig returns the default retry policy.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     4,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.2,
	}
}

// Delay computes the backoff for the given zero-based attempt number.
func (c *RetryConfig) Delay(attempt int) time.Duration {
	interval := float64(c.InitialInterval) * math.Pow(c.Multiplier, float64(attempt))
	if interval > float64(c.MaxInterval) {
		interval = float64(c.MaxInterval)
	}
	if c.Jitter > 0 {
		interval += interval * c.Jitter * (rand.Float64()*2 - 1)
	}
	if interval < 0 {
		interval = 0
	}
	return time.Duration(interval)
}

// sleepCtx waits for d, aborting early if the context is done. The delay
// suspends only the retrying call, never the whole system.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
