package clients

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles outbound requests.
type RateLimiter interface {
	// Allow reports whether a request may proceed now
	Allow() bool

	// Wait blocks until a request may proceed or ctx ends
	Wait(ctx context.Context) error

	// SetRate updates the limit in requests per second
	SetRate(rps float64)

	// GetStats returns limiter statistics
	GetStats() RateLimiterStats
}

// RateLimiterStats describes limiter state.
type RateLimiterStats struct {
	Rate            float64       `json:"rate"`
	Burst           int           `json:"burst"`
	AllowedRequests int64         `json:"allowed_requests"`
	BlockedRequests int64         `json:"blocked_requests"`
	AverageWaitTime time.Duration `json:"average_wait_time"`
}

// TokenBucketRateLimiter is a token bucket backed by x/time/rate.
type TokenBucketRateLimiter struct {
	limiter *rate.Limiter

	allowedRequests int64
	blockedRequests int64
	totalWaitTime   int64
}

// NewTokenBucketRateLimiter creates a limiter refilling at rps tokens per
// second with the given burst. A burst below one is raised to one.
func NewTokenBucketRateLimiter(rps float64, burst int) *TokenBucketRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucketRateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Allow implements RateLimiter.
func (tb *TokenBucketRateLimiter) Allow() bool {
	if tb.limiter.Allow() {
		atomic.AddInt64(&tb.allowedRequests, 1)
		return true
	}
	atomic.AddInt64(&tb.blockedRequests, 1)
	return false
}

// Wait implements RateLimiter.
func (tb *TokenBucketRateLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := tb.limiter.Wait(ctx); err != nil {
		atomic.AddInt64(&tb.blockedRequests, 1)
		return err
	}
	atomic.AddInt64(&tb.allowedRequests, 1)
	atomic.AddInt64(&tb.totalWaitTime, time.Since(start).Nanoseconds())
	return nil
}

// SetRate implements RateLimiter.
func (tb *TokenBucketRateLimiter) SetRate(rps float64) {
	tb.limiter.SetLimit(rate.Limit(rps))
}

// GetStats implements RateLimiter.
func (tb *TokenBucketRateLimiter) GetStats() RateLimiterStats {
	allowed := atomic.LoadInt64(&tb.allowedRequests)
	stats := RateLimiterStats{
		Rate:            float64(tb.limiter.Limit()),
		Burst:           tb.limiter.Burst(),
		AllowedRequests: allowed,
		BlockedRequests: atomic.LoadInt64(&tb.blockedRequests),
	}
	if allowed > 0 {
		stats.AverageWaitTime = time.Duration(atomic.LoadInt64(&tb.totalWaitTime) / allowed)
	}
	return stats
}

// AdaptiveRateLimiter halves its rate when the server pushes back and
// creeps back toward the base rate on success.
type AdaptiveRateLimiter struct {
	*TokenBucketRateLimiter

	baseRate float64
	minRate  float64

	mu      sync.Mutex
	current float64
}

// NewAdaptiveRateLimiter creates an adaptive limiter starting at baseRate.
func NewAdaptiveRateLimiter(baseRate float64, burst int) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		TokenBucketRateLimiter: NewTokenBucketRateLimiter(baseRate, burst),
		baseRate:               baseRate,
		minRate:                baseRate / 16,
		current:                baseRate,
	}
}

// RecordResponse adjusts the rate after a request. throttled is true for
// 429 responses.
func (ar *AdaptiveRateLimiter) RecordResponse(throttled bool) {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	next := ar.current
	if throttled {
		next = ar.current / 2
		if next < ar.minRate {
			next = ar.minRate
		}
	} else if ar.current < ar.baseRate {
		next = ar.current * 1.1
		if next > ar.baseRate {
			next = ar.baseRate
		}
	}
	if next != ar.current {
		ar.current = next
		ar.TokenBucketRateLimiter.SetRate(next)
	}
}

// SetRate resets both the base and current rate.
func (ar *AdaptiveRateLimiter) SetRate(rps float64) {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	ar.baseRate = rps
	ar.minRate = rps / 16
	ar.current = rps
	ar.TokenBucketRateLimiter.SetRate(rps)
}

// CurrentRate returns the rate in effect.
func (ar *AdaptiveRateLimiter) CurrentRate() float64 {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.current
}
