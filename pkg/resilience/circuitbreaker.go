// Package resilience guards calls to flaky upstreams with a circuit breaker
// and a token bucket rate limiter.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without invoking the wrapped call while the
// breaker is tripped.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State of a breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerOpts tunes trip and recovery behavior.
type BreakerOpts struct {
	// Threshold is the consecutive failure count that trips the breaker.
	Threshold int
	// Cooldown is how long the breaker rejects calls before probing again.
	Cooldown time.Duration
	// Probes is how many calls may pass while half-open.
	Probes int
}

// DefaultBreakerOpts suit a single slow upstream like a generation API.
var DefaultBreakerOpts = BreakerOpts{
	Threshold: 5,
	Cooldown:  30 * time.Second,
	Probes:    1,
}

// Breaker trips after Threshold consecutive failures, rejects calls for
// Cooldown, then admits Probes calls. One probe success closes it; one
// probe failure reopens it.
type Breaker struct {
	mu       sync.Mutex
	opts     BreakerOpts
	state    State
	failures int
	openedAt time.Time
	probes   int
	clock    func() time.Time
}

// NewBreaker returns a closed breaker. Zero fields fall back to
// DefaultBreakerOpts.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultBreakerOpts.Threshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultBreakerOpts.Cooldown
	}
	if opts.Probes <= 0 {
		opts.Probes = DefaultBreakerOpts.Probes
	}
	return &Breaker{opts: opts, clock: time.Now}
}

// State reports the current state, moving open to half-open once the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tick()
}

// tick applies the open to half-open transition. Must hold mu.
func (b *Breaker) tick() State {
	if b.state == Open && b.clock().Sub(b.openedAt) >= b.opts.Cooldown {
		b.state = HalfOpen
		b.probes = 0
	}
	return b.state
}

// admit decides whether a call may proceed, consuming a probe slot while
// half-open.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.tick() {
	case Open:
		return ErrCircuitOpen
	case HalfOpen:
		if b.probes >= b.opts.Probes {
			return ErrCircuitOpen
		}
		b.probes++
	}
	return nil
}

// settle records a call outcome.
func (b *Breaker) settle(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if failed {
		b.failures++
		if b.state == HalfOpen || b.failures >= b.opts.Threshold {
			b.state = Open
			b.openedAt = b.clock()
			b.failures = 0
			b.probes = 0
		}
		return
	}
	if b.state == HalfOpen {
		b.state = Closed
	}
	b.failures = 0
}

// Call runs f through the breaker.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := f(ctx)
	b.settle(err != nil)
	return err
}
