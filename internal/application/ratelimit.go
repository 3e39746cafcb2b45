package application

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a minimum interval between actions per platform.
// Sends and monitor polls draw from one shared budget, so each platform sees
// a single pacing contract no matter which loop is acting.
type RateLimiter struct {
	enabled bool

	mu     sync.Mutex
	limits map[string]*rate.Limiter
}

// NewRateLimiter creates a rate limiter. When enabled is false, every
// acquisition is allowed immediately.
func NewRateLimiter(enabled bool) *RateLimiter {
	return &RateLimiter{
		enabled: enabled,
		limits:  make(map[string]*rate.Limiter),
	}
}

// SetInterval configures the minimum spacing between actions for a platform.
// Platforms without a configured interval are never limited.
func (l *RateLimiter) SetInterval(platformID string, minInterval time.Duration) {
	if minInterval <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// Burst 1: a single action is available immediately, then one more
	// every minInterval.
	l.limits[platformID] = rate.NewLimiter(rate.Every(minInterval), 1)
}

// TryAcquire reports whether an action on the platform may proceed now.
// Allowed consumes the platform's slot in one atomic step; a denial returns
// the minimum duration to wait before rechecking and leaves state untouched.
// The returned duration is a floor, not a guarantee: another caller may take
// the slot in the meantime.
func (l *RateLimiter) TryAcquire(platformID string) (bool, time.Duration) {
	if !l.enabled {
		return true, 0
	}

	l.mu.Lock()
	lim, ok := l.limits[platformID]
	l.mu.Unlock()
	if !ok {
		return true, 0
	}

	res := lim.Reserve()
	if d := res.Delay(); d > 0 {
		res.Cancel()
		return false, d
	}
	return true, 0
}
