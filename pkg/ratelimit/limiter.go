// Package ratelimit implements per-user, per-action fixed window rate limiting.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Result is the outcome of a single Check.
type Result struct {
	Allowed   bool
	Remaining int
	// RetryAfter is the number of whole seconds until the window resets.
	// Only set when the request was denied, and never below 1.
	RetryAfter int
}

// Window is the counter state for one key.
type Window struct {
	Count   int
	ResetAt time.Time
}

// Decide applies one request to the window w and returns the new window state
// along with the decision. A nil window means the key has never been seen.
func Decide(w *Window, max int, window time.Duration, now time.Time) (Window, Result) {
	if w == nil || now.After(w.ResetAt) {
		return Window{Count: 1, ResetAt: now.Add(window)}, Result{Allowed: true, Remaining: max - 1}
	}

	if w.Count >= max {
		return *w, Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter(w.ResetAt.Sub(now))}
	}

	next := Window{Count: w.Count + 1, ResetAt: w.ResetAt}
	return next, Result{Allowed: true, Remaining: max - next.Count}
}

func retryAfter(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Store holds window state. Apply must run Decide atomically for a key.
type Store interface {
	Apply(ctx context.Context, key string, max int, window time.Duration, now time.Time) (Result, error)
	// Sweep drops windows that have expired at now and returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Limiter enforces fixed window limits keyed by user and action.
type Limiter struct {
	store Store
	now   func() time.Time
}

// New creates a Limiter backed by store.
func New(store Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// Check records one request for userID/action and reports whether it is allowed.
func (l *Limiter) Check(ctx context.Context, userID, action string, maxRequests, windowSeconds int) (Result, error) {
	if maxRequests <= 0 || windowSeconds <= 0 {
		return Result{}, fmt.Errorf("invalid limit %d/%ds for %s", maxRequests, windowSeconds, action)
	}

	res, err := l.store.Apply(ctx, Key(userID, action), maxRequests, time.Duration(windowSeconds)*time.Second, l.now())
	if err != nil {
		return Result{}, fmt.Errorf("rate limit store: %w", err)
	}
	return res, nil
}

// Sweep removes expired windows from the underlying store.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	return l.store.Sweep(ctx, l.now())
}

// Key builds the store key for a user and action.
func Key(userID, action string) string {
	return userID + ":" + action
}
