// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package resilience

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/tributary/internal/metrics"
)

// RateLimiter is a token bucket shared by every caller that draws on the
// same upstream quota. Tokens refill continuously at RefillPerSecond up to
// Capacity; refill is computed lazily when a token is requested.
type RateLimiter struct {
	name    string
	limiter *rate.Limiter
}

// NewRateLimiter creates a bucket that starts full.
func NewRateLimiter(name string, refillPerSecond float64, capacity int) *RateLimiter {
	if capacity < 1 {
		capacity = 1
	}
	return &RateLimiter{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(refillPerSecond), capacity),
	}
}

// Acquire blocks until a token is available and consumes it. It returns
// early with ctx's error if the context ends first.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter %s: %w", r.name, err)
	}
	metrics.RateLimiterWait.WithLabelValues(r.name).Observe(time.Since(start).Seconds())
	return nil
}

// Tokens reports the tokens currently available. For diagnostics only.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

// Capacity returns the burst size.
func (r *RateLimiter) Capacity() int {
	return r.limiter.Burst()
}

// RefillPerSecond returns the steady-state rate.
func (r *RateLimiter) RefillPerSecond() float64 {
	return float64(r.limiter.Limit())
}
