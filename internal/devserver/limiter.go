package devserver

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// userLimiter keeps one token bucket per participant so a single noisy
// client cannot flood the fan-out. Idle buckets are cleaned up on a timer.
type userLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	rate     rate.Limit
	burst    int
	ttl      time.Duration
}

func newUserLimiter(requests int, window, ttl time.Duration) *userLimiter {
	return &userLimiter{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		rate:     rate.Every(window / time.Duration(requests)),
		burst:    requests,
		ttl:      ttl,
	}
}

func (ul *userLimiter) allow(userID string) bool {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	bucket, ok := ul.limiters[userID]
	if !ok {
		bucket = rate.NewLimiter(ul.rate, ul.burst)
		ul.limiters[userID] = bucket
	}

	ul.lastSeen[userID] = time.Now()
	return bucket.Allow()
}

func (ul *userLimiter) cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ul.mu.Lock()
			for id, ls := range ul.lastSeen {
				if time.Since(ls) > ul.ttl {
					delete(ul.limiters, id)
					delete(ul.lastSeen, id)
				}
			}
			ul.mu.Unlock()
		}
	}
}
