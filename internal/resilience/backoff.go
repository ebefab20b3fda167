// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/metrics"
)

// Backoff retries a fallible operation with exponential delay and jitter.
//
// The delay before retry n (n >= 1) is min(BaseDelay * Factor^(n-1), MaxDelay),
// jittered by ±25% when Jitter is set. A RateLimited error carrying a
// Retry-After value replaces the computed delay with the upstream's.
type Backoff struct {
	// Name labels log lines and metrics.
	Name string

	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Factor     float64
	Jitter     bool

	// ShouldRetry decides whether an error is worth another attempt.
	// Defaults to DefaultShouldRetry.
	ShouldRetry func(error) bool

	// sleep is replaced in tests.
	sleep func(context.Context, time.Duration) error
}

// DefaultBackoff returns the pipeline's standard retry policy.
func DefaultBackoff(name string) *Backoff {
	return &Backoff{
		Name:       name,
		MaxRetries: 5,
		BaseDelay:  time.Second,
		MaxDelay:   60 * time.Second,
		Factor:     2,
		Jitter:     true,
	}
}

// Delay returns the un-jittered delay before retry n (1-based).
func (b *Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 2
	}
	d := float64(b.BaseDelay) * math.Pow(factor, float64(n-1))
	// Guard against overflow for large n before capping.
	if math.IsInf(d, 0) || d > float64(math.MaxInt64) {
		return b.MaxDelay
	}
	if b.MaxDelay > 0 && time.Duration(d) > b.MaxDelay {
		return b.MaxDelay
	}
	return time.Duration(d)
}

func (b *Backoff) jittered(d time.Duration) time.Duration {
	if !b.Jitter || d <= 0 {
		return d
	}
	// uniform in [0.75d, 1.25d)
	return time.Duration(float64(d) * (0.75 + rand.Float64()*0.5))
}

// Retry runs op until it succeeds, the retry predicate rejects its error, or
// MaxRetries retries have been spent (MaxRetries+1 attempts in total). On
// exhaustion the last error is returned wrapped as RetryExhausted.
func Retry[T any](ctx context.Context, b *Backoff, op func(context.Context) (T, error)) (T, error) {
	shouldRetry := b.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}
	sleep := b.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := b.jittered(b.Delay(attempt))
			var re *Error
			if errors.As(lastErr, &re) && re.Kind == KindRateLimited && re.RetryAfter > 0 {
				delay = re.RetryAfter
			}

			logging.Ctx(ctx).Warn().
				Str("operation", b.Name).
				Int("attempt", attempt).
				Int("max_retries", b.MaxRetries).
				Dur("delay", delay).
				Err(lastErr).
				Msg("Retrying after failure")
			metrics.UpstreamRetries.WithLabelValues(b.Name, KindOf(lastErr).String()).Inc()

			if err := sleep(ctx, delay); err != nil {
				return zero, err
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return zero, err
		}
	}

	return zero, &Error{Kind: KindRetryExhausted, Op: b.Name, Attempts: b.MaxRetries + 1, Err: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
