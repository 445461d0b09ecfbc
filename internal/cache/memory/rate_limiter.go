package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/roundbet/internal/domain"
)

// RateLimiter implements domain.RateLimiter with one token bucket per key.
// A key's bucket is sized on first use; later calls with different limits
// for the same key reuse the original bucket.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	rl.mu.Lock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		rl.limiters[key] = l
	}
	rl.mu.Unlock()
	return l.Allow(), nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
