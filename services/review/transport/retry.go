// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transport

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/jinterlante1206/reviewd/services/review/review"
)

// Limiter paces outbound calls with a token bucket, preventing a fast
// retry loop from hammering the API during a degraded period.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter allows one call every interval, with burst headroom.
func NewLimiter(interval time.Duration, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{rl: rate.NewLimiter(rate.Every(interval), burst)}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// WithRetry runs op, retrying on TransportTimeout/TransportTransient
// errors with exponential backoff and full jitter, bounded by both
// policy.MaxAttempts and policy.WallClock — the wall-clock ceiling
// dominates when the model is slow.
func WithRetry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) (*Reply, error)) (*Reply, error) {
	deadline := time.Now().Add(policy.WallClock)
	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if time.Now().After(deadline) {
			break
		}
		reply, err := op(ctx)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		rerr, ok := review.AsReviewError(err)
		if !ok || !isRetryable(rerr.Kind) {
			return nil, err
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := backoffDelay(policy, attempt)
		remaining := time.Until(deadline)
		if delay > remaining {
			delay = remaining
		}
		if delay <= 0 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if lastErr == nil {
		lastErr = review.NewError(review.KindTransportTransient, "retry budget exhausted", nil)
	}
	return nil, lastErr
}

func isRetryable(kind review.Kind) bool {
	return kind == review.KindTransportTimeout || kind == review.KindTransportTransient
}

func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	base := policy.BaseDelay
	for i := 0; i < attempt; i++ {
		base *= 2
		if base > policy.MaxDelay {
			base = policy.MaxDelay
			break
		}
	}
	// Full jitter: uniform in [0, base].
	return time.Duration(rand.Int63n(int64(base) + 1))
}
