// Package ratelimit provides the token bucket used to cap inbound signaling
// messages per connection.
package ratelimit

import (
	"sync"
	"time"
)

// One token is 1e9 nano-tokens, so a rate of X tokens/sec adds exactly X
// nano-tokens per elapsed nanosecond and no float rounding is involved.
const nanoPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at an integer rate (tokens/sec) up to a fixed burst.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	burst int64 // tokens
	rate  int64 // tokens/sec

	nano int64 // available nano-tokens
	last time.Time
}

// NewTokenBucket returns a full bucket. A nil clock uses RealClock.
func NewTokenBucket(clock Clock, burst, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	burst = max(burst, 0)
	rate = max(rate, 0)
	return &TokenBucket{
		clock: clock,
		burst: burst,
		rate:  rate,
		nano:  toNano(burst),
		last:  clock.Now(),
	}
}

// Allow consumes n tokens if they are available. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := toNano(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(b.clock.Now())
	if b.nano < cost {
		return false
	}
	b.nano -= cost
	return true
}

// Available reports the whole tokens currently in the bucket.
func (b *TokenBucket) Available() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(b.clock.Now())
	return b.nano / nanoPerToken
}

func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.last).Nanoseconds()
	if elapsed <= 0 {
		// Time went backwards or did not move; only move the reference point.
		if elapsed < 0 {
			b.last = now
		}
		return
	}
	b.last = now

	full := toNano(b.burst)
	if b.rate == 0 || b.nano >= full {
		b.nano = min(b.nano, full)
		return
	}

	// elapsed*rate may overflow; clamp once enough time has passed to refill.
	missing := full - b.nano
	if elapsed >= missing/b.rate {
		b.nano = full
		return
	}
	b.nano = min(b.nano+elapsed*b.rate, full)
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoPerToken {
		return maxInt64
	}
	return tokens * nanoPerToken
}
