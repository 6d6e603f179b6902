package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/attaboy/checkout/internal/domain"
	"golang.org/x/time/rate"
)

// maxIdle is how long an unused key's bucket is kept before it is swept.
const maxIdle = 10 * time.Minute

// RateLimiter keeps one token bucket per key.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*keyedLimiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second per key,
// with bursts of up to burst requests.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*keyedLimiter),
		limit:    rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

// Check returns a GuardResult indicating whether the key is within rate limits.
func (rl *RateLimiter) Check(_ context.Context, key string) domain.GuardResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	kl, ok := rl.limiters[key]
	if !ok {
		kl = &keyedLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = kl
	}
	kl.lastSeen = now

	if !kl.limiter.AllowN(now, 1) {
		return domain.GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("rate limit exceeded: %.2f/s burst %d", float64(rl.limit), rl.burst),
			Guard:   "rate_limiter",
		}
	}
	return domain.GuardResult{Allowed: true}
}

func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < maxIdle {
		return
	}
	rl.lastSweep = now
	for k, kl := range rl.limiters {
		if now.Sub(kl.lastSeen) > maxIdle {
			delete(rl.limiters, k)
		}
	}
}
