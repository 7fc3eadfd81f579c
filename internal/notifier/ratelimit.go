package notifier

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket limiter for notifications.
type RateLimiter struct {
	limiter      *rate.Limiter
	maxPerWindow int
	window       time.Duration
	enabled      bool
	dropped      atomic.Int64
	sent         atomic.Int64
}

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	MaxPerWindow int           // Maximum notifications per window (default: 10)
	Window       time.Duration // Time window (default: 1 minute)
	Enabled      bool          // Whether rate limiting is enabled (default: true)
}

// DefaultRateLimitConfig returns default rate limit settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxPerWindow: 10,
		Window:       time.Minute,
		Enabled:      true,
	}
}

// NewRateLimiter creates a new rate limiter with the given configuration.
// The bucket holds MaxPerWindow tokens and refills evenly over Window.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.MaxPerWindow <= 0 {
		config.MaxPerWindow = 10
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}

	every := config.Window / time.Duration(config.MaxPerWindow)
	return &RateLimiter{
		limiter:      rate.NewLimiter(rate.Every(every), config.MaxPerWindow),
		maxPerWindow: config.MaxPerWindow,
		window:       config.Window,
		enabled:      config.Enabled,
	}
}

// Token is a consumed rate limit token.
type Token struct {
	r   *RateLimiter
	res *rate.Reservation
}

// Cancel refunds the token. Call this when the notification attempt failed.
func (t Token) Cancel() {
	if t.res != nil {
		t.res.Cancel()
	}
	if t.r != nil {
		t.r.sent.Add(-1)
	}
}

// Acquire takes a token if one is available now.
func (r *RateLimiter) Acquire() (Token, bool) {
	if r == nil || !r.enabled {
		return Token{}, true
	}

	res := r.limiter.Reserve()
	if !res.OK() || res.Delay() > 0 {
		res.Cancel()
		r.dropped.Add(1)
		return Token{}, false
	}
	r.sent.Add(1)
	return Token{r: r, res: res}, true
}

// Allow checks if a notification is allowed under the rate limit.
func (r *RateLimiter) Allow() bool {
	_, ok := r.Acquire()
	return ok
}

// Dropped returns the number of notifications dropped due to rate limiting.
func (r *RateLimiter) Dropped() int64 {
	return r.dropped.Load()
}

// Stats returns rate limiter statistics.
func (r *RateLimiter) Stats() RateLimitStats {
	return RateLimitStats{
		Dropped:      r.dropped.Load(),
		Sent:         r.sent.Load(),
		Available:    r.limiter.Tokens(),
		MaxPerWindow: r.maxPerWindow,
		Window:       r.window,
		Enabled:      r.enabled,
	}
}

// RateLimitStats contains rate limiter statistics.
type RateLimitStats struct {
	Dropped      int64         // Total notifications dropped
	Sent         int64         // Tokens consumed and not refunded
	Available    float64       // Tokens currently in the bucket
	MaxPerWindow int           // Maximum allowed per window
	Window       time.Duration // Window duration
	Enabled      bool          // Whether rate limiting is enabled
}
