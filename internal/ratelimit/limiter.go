// Package ratelimit provides per-user per-route fixed-window rate limiting
// with in-process and Redis backends.
package ratelimit

import (
	"context"
	"time"
)

// Config configures the fixed-window limiter.
type Config struct {
	// Enabled controls whether limiting is active.
	Enabled bool
	// Window is the fixed window length.
	Window time.Duration
	// MaxRequests is the cap per window.
	MaxRequests int
}

// DefaultConfig returns the default limiter configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Window:      time.Minute,
		MaxRequests: 60,
	}
}

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed bool
	// RetryAfter is the whole seconds until the next window boundary,
	// minimum 1. Only meaningful when Allowed is false.
	RetryAfter int
}

// Limiter checks requests against a fixed-window counter keyed by user and
// route.
type Limiter interface {
	Allow(ctx context.Context, userID, route string) (Decision, error)
}

// windowKey builds the counter key. The null-byte separator keeps user ids
// and routes containing ':' from colliding.
func windowKey(userID, route string) string {
	return "\x00" + userID + "\x00" + route
}

// retryAfter computes whole seconds until the window containing now ends.
func retryAfter(now time.Time, window time.Duration) int {
	start := now.Truncate(window)
	secs := int(start.Add(window).Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
