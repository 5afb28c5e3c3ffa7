package resilience

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket shared by every worker talking to one upstream.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter allows rps calls per second with the given burst. rps <= 0
// disables limiting.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return &Limiter{rl: rate.NewLimiter(rate.Inf, 1)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Allow reports whether a call may proceed right now.
func (l *Limiter) Allow() bool { return l.rl.Allow() }

// Wait blocks until a token is available or ctx ends.
func (l *Limiter) Wait(ctx context.Context) error { return l.rl.Wait(ctx) }
