// Package ratelimit paces calls against the rate-limited deal source.
// The fetcher waits on a limiter before every page request and the scheduler
// waits on another between partitions, so pacing policy stays out of the
// fetch loop and can be swapped for a no-op in tests.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the interface for pacing strategies.
//
// Thread Safety: Implementations must be safe for concurrent use by multiple goroutines.
type Limiter interface {
	// Acquire blocks until a slot is available or the context is cancelled.
	Acquire(ctx context.Context) error

	// Stats returns current statistics about the limiter.
	Stats() Stats
}

// Stats contains statistics about limiter usage.
type Stats struct {
	// TotalAcquired is the total number of successful acquisitions.
	TotalAcquired int64
	// Interval is the configured spacing between slots.
	Interval time.Duration
	// AvgWaitTime is the average time spent waiting in Acquire calls.
	AvgWaitTime time.Duration
}

// TokenBucketLimiter implements Limiter using golang.org/x/time/rate.
//
// Thread Safety: Safe for concurrent use.
type TokenBucketLimiter struct {
	limiter  *rate.Limiter
	interval time.Duration
	mu       sync.RWMutex

	// Statistics
	totalAcquired atomic.Int64
	totalWaitTime atomic.Int64 // in nanoseconds
}

// NewTokenBucketLimiter creates a limiter granting one slot every interval,
// with burst slots available up front. If burst is 0, it defaults to 1.
func NewTokenBucketLimiter(interval time.Duration, burst int) *TokenBucketLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &TokenBucketLimiter{
		limiter:  rate.NewLimiter(limit, burst),
		interval: interval,
	}
}

// Acquire blocks until a slot is available or context is cancelled.
func (l *TokenBucketLimiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	l.totalAcquired.Add(1)
	l.totalWaitTime.Add(int64(time.Since(start)))
	return nil
}

// SetInterval dynamically adjusts the spacing between slots.
func (l *TokenBucketLimiter) SetInterval(interval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interval = interval
	if interval <= 0 {
		l.limiter.SetLimit(rate.Inf)
		return
	}
	l.limiter.SetLimit(rate.Every(interval))
}

// Stats returns current statistics about the limiter.
func (l *TokenBucketLimiter) Stats() Stats {
	acquired := l.totalAcquired.Load()
	totalWait := l.totalWaitTime.Load()

	var avgWait time.Duration
	if acquired > 0 {
		avgWait = time.Duration(totalWait / acquired)
	}

	l.mu.RLock()
	interval := l.interval
	l.mu.RUnlock()

	return Stats{
		TotalAcquired: acquired,
		Interval:      interval,
		AvgWaitTime:   avgWait,
	}
}

// Unlimited is a Limiter that never waits. It still honors cancellation.
type Unlimited struct {
	totalAcquired atomic.Int64
}

// NewUnlimited creates a Limiter that never waits
func NewUnlimited() *Unlimited {
	return &Unlimited{}
}

// Acquire returns immediately unless ctx is already done.
func (u *Unlimited) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u.totalAcquired.Add(1)
	return nil
}

// Stats returns current statistics about the limiter.
func (u *Unlimited) Stats() Stats {
	return Stats{TotalAcquired: u.totalAcquired.Load()}
}

// Compile-time interface checks
var (
	_ Limiter = (*TokenBucketLimiter)(nil)
	_ Limiter = (*Unlimited)(nil)
)
