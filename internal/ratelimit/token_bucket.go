package ratelimit

import (
	"golang.org/x/time/rate"
)

// TokenBucket admits events at a steady per-second rate with a fixed burst.
// Time comes from a Clock so tests can step it explicitly.
type TokenBucket struct {
	clock   Clock
	limiter *rate.Limiter
}

// NewTokenBucket returns a bucket that starts full. A non-positive capacity
// or fill rate admits nothing.
func NewTokenBucket(clock Clock, capacityTokens, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacityTokens < 0 {
		capacityTokens = 0
	}
	if fillRate < 0 {
		fillRate = 0
	}
	return &TokenBucket{
		clock:   clock,
		limiter: rate.NewLimiter(rate.Limit(fillRate), int(capacityTokens)),
	}
}

// Allow consumes tokens if they are available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	if tokens > int64(b.limiter.Burst()) {
		return false
	}
	return b.limiter.AllowN(b.clock.Now(), int(tokens))
}
