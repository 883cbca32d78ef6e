package rest

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultGlobalRPS is the platform's documented per-client ceiling.
const DefaultGlobalRPS = 50

// GlobalLimiter gates every request of a client. It combines a steady token
// bucket with the block the server imposes after a global 429.
type GlobalLimiter struct {
	mu        sync.Mutex
	remaining int
	resetAt   time.Time

	steady *rate.Limiter
}

// NewGlobalLimiter allows rps requests per second. rps <= 0 disables the
// steady cap, leaving only server imposed blocks.
func NewGlobalLimiter(rps float64) *GlobalLimiter {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &GlobalLimiter{
		remaining: 1,
		steady:    rate.NewLimiter(limit, burst),
	}
}

// Delay reports how long the server block still lasts at now, zero when
// requests may proceed.
func (g *GlobalLimiter) Delay(now time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.remaining > 0 {
		return 0
	}
	if now.Before(g.resetAt) {
		return g.resetAt.Sub(now)
	}
	g.remaining = 1
	g.resetAt = time.Time{}
	return 0
}

// Block stops all admissions until until.
func (g *GlobalLimiter) Block(until time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.remaining = 0
	if until.After(g.resetAt) {
		g.resetAt = until
	}
}

// Wait takes one token from the steady limiter.
func (g *GlobalLimiter) Wait(ctx context.Context) error {
	return g.steady.Wait(ctx)
}

// Blocked reports whether a server imposed block is active.
func (g *GlobalLimiter) Blocked(now time.Time) bool {
	return g.Delay(now) > 0
}
