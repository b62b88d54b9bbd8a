package executor

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a minimum inter-call spacing across all workers.
// Waiting observes cancellation and reports it as an ordinary result rather
// than an error.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter granting at most rps calls per second,
// with no burst beyond the first call.
func NewRateLimiter(rps float64) *RateLimiter {
	if rps <= 0 {
		rps = 0.001
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Wait blocks until the limiter grants a slot. It returns false when the
// context is cancelled before the grant.
func (l *RateLimiter) Wait(ctx context.Context) bool {
	return l.limiter.Wait(ctx) == nil
}
