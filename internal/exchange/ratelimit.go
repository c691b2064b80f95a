// ratelimit.go throttles outbound CLOB API calls.
//
// Polymarket publishes per-category request ceilings over 10-second
// windows. Counting requests per window stalls everything at the window
// boundary, so each category instead gets a continuously refilling token
// bucket: the burst is a tenth of the window allowance and the refill rate
// sits well under the sustained ceiling, leaving headroom for retries.
package exchange

import (
	"context"
	"sync"
	"time"
)

// limitWindow is the length of Polymarket's published rate-limit window.
const limitWindow = 10 * time.Second

// TokenBucket is a continuously refilling token bucket. Wait blocks until
// a token is available or the context is cancelled; tokens accrue
// fractionally so short bursts smooth out instead of ping-ponging between
// full-speed and stalled.
type TokenBucket struct {
	mu     sync.Mutex
	level  float64 // tokens currently available
	burst  float64 // maximum level
	perSec float64 // refill rate
	at     time.Time
}

// NewTokenBucket creates a full bucket with the given burst and refill rate.
func NewTokenBucket(burst, perSecond float64) *TokenBucket {
	return &TokenBucket{
		level:  burst,
		burst:  burst,
		perSec: perSecond,
		at:     time.Now(),
	}
}

// refill credits tokens for the time elapsed since the last update.
// Caller must hold b.mu.
func (b *TokenBucket) refill(now time.Time) {
	b.level += now.Sub(b.at).Seconds() * b.perSec
	if b.level > b.burst {
		b.level = b.burst
	}
	b.at = now
}

// Wait takes one token, blocking until one accrues. Returns the context
// error if ctx is cancelled while waiting.
func (b *TokenBucket) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refill(time.Now())
		if b.level >= 1 {
			b.level--
			b.mu.Unlock()
			return nil
		}
		delay := time.Duration((1 - b.level) / b.perSec * float64(time.Second))
		b.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RateLimiter holds one bucket per CLOB endpoint category. Every client
// call waits on its category's bucket before touching the network.
type RateLimiter struct {
	Order  *TokenBucket // POST /order
	Cancel *TokenBucket // DELETE /order, /cancel-all
	Book   *TokenBucket // GET /book, /data/order
}

// NewRateLimiter sizes the buckets from Polymarket's published window
// allowances (orders 3500, cancels 3000, reads 1500 per window).
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:  newWindowBucket(3500, 50),
		Cancel: newWindowBucket(3000, 30),
		Book:   newWindowBucket(1500, 15),
	}
}

// newWindowBucket derives the burst from a published per-window allowance:
// a tenth of the window, refilled at the given conservative rate.
func newWindowBucket(perWindow, ratePerSecond float64) *TokenBucket {
	return NewTokenBucket(perWindow/limitWindow.Seconds(), ratePerSecond)
}
