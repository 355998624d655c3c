// Package ratelimit implements fixed-window request counting per key.
//
// Each key owns one (count, resetAt) pair. A request inside the window
// increments the count; the first request after resetAt starts a new window
// at count 1. A request is limited once its count exceeds the configured
// maximum, so with Max=5 the sixth request in a window is the first rejected.
package ratelimit

import (
	"context"
	"math"
	"time"
)

// Config describes one limit. Name namespaces the counters so that two
// configs never share a window for the same client.
type Config struct {
	Name    string
	Window  time.Duration
	Max     int
	Message string
}

// Preset limits used by the request gate and the auth handlers.
var (
	Auth          = Config{Name: "auth", Window: 15 * time.Minute, Max: 5, Message: "Too many authentication attempts, please try again later"}
	Registration  = Config{Name: "registration", Window: time.Hour, Max: 3, Message: "Too many registration attempts, please try again later"}
	API           = Config{Name: "api", Window: time.Minute, Max: 100, Message: "Too many requests, please slow down"}
	PasswordReset = Config{Name: "password_reset", Window: time.Hour, Max: 3, Message: "Too many password reset attempts, please try again later"}
)

// Store is an atomic counter with a per-key expiry.
type Store interface {
	// Incr bumps the counter for key, starting a new window of the given
	// length if none is live, and returns the new count and window end.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)
}

// Result is the outcome of one IsRateLimited call.
type Result struct {
	Limited   bool
	Count     int64
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole number of seconds until the window resets,
// never less than one.
func (r Result) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(r.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter applies Configs to keys using a Store.
type Limiter struct {
	store Store
}

// New returns a Limiter backed by store.
func New(store Store) *Limiter {
	return &Limiter{store: store}
}

// IsRateLimited counts this request against key under cfg. The counter is
// incremented even when the request is rejected. On a store error the
// request is admitted and the error returned for logging.
func (l *Limiter) IsRateLimited(ctx context.Context, key string, cfg Config) (Result, error) {
	count, resetAt, err := l.store.Incr(ctx, cfg.Name+":"+key, cfg.Window)
	if err != nil {
		return Result{Limit: cfg.Max, Remaining: cfg.Max}, err
	}
	remaining := cfg.Max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Limited:   count > int64(cfg.Max),
		Count:     count,
		Limit:     cfg.Max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
