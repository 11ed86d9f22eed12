// Package ratelimit implements per-identifier fixed-window rate limiting
// backed by the ephemeral state store.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeclash-io/codeclash/pkg/store"
)

// CounterStore is the store subset the limiter needs. Increments are atomic;
// a read following an increment observes it.
type CounterStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	ExpireInSeconds(ctx context.Context, key string, seconds int) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter is a fixed-window counter limiter. The window starts on the first
// hit (INCR creating the key) and ends when the key's TTL expires.
type Limiter struct {
	store CounterStore
}

// New creates a limiter over the given counter store.
func New(s CounterStore) *Limiter {
	return &Limiter{store: s}
}

// Check counts one hit for (identifier, endpoint) against the given limit
// and window. Store failures MUST NOT block legitimate traffic: the limiter
// fails open and logs.
func (l *Limiter) Check(ctx context.Context, identifier, endpoint string, limit int, window time.Duration) Decision {
	key := store.RateLimitKey(identifier, endpoint)

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		slog.Warn("Rate limiter store failure, failing open",
			"identifier", identifier, "endpoint", endpoint, "error", err)
		return Decision{Allowed: true, Remaining: limit, ResetAt: time.Now().Add(window)}
	}

	// First hit in the window: start the window clock.
	if count == 1 {
		if err := l.store.ExpireInSeconds(ctx, key, int(window.Seconds())); err != nil {
			slog.Warn("Rate limiter expire failed", "key", key, "error", err)
		}
	}

	resetAt := time.Now().Add(window)
	if ttl, err := l.store.TTL(ctx, key); err == nil && ttl > 0 {
		resetAt = time.Now().Add(ttl)
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= int64(limit),
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
