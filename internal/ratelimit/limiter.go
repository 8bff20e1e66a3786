// Package ratelimit caps how many balance-affecting actions a user may
// trigger interactively within a rolling window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
)

// Defaults of the interactive transaction limiter.
const (
	DefaultLimit  = 10
	DefaultWindow = 24 * time.Hour
)

// Decision is the outcome of Protect.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

// Limiter is a per-user counter that resets once its window has passed.
// The counters live in a CounterStore so several instances share them.
type Limiter struct {
	store  interfaces.CounterStore
	limit  int
	window time.Duration
	now    func() time.Time
}

// New creates a Limiter allowing limit actions per window.
func New(store interfaces.CounterStore, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{store: store, limit: limit, window: window, now: time.Now}
}

// WithClock replaces time.Now; used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Protect asks for requested actions on behalf of userID. An allowed request
// is counted before Protect returns; a denied one is not.
func (l *Limiter) Protect(ctx context.Context, userID string, requested int) (Decision, error) {
	if requested <= 0 {
		requested = 1
	}
	if userID == "" {
		userID = "anonymous"
	}

	now := l.now()
	w, err := l.store.Take(ctx, userID, requested, l.limit, l.window, now)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", userID, err)
	}

	d := Decision{Allowed: w.Allowed, ResetIn: w.ResetAt.Sub(now)}
	if w.Allowed {
		d.Remaining = l.limit - w.Count
	}
	return d, nil
}

// Allow is Protect for a single action, reporting a denial as ErrRateLimited.
func (l *Limiter) Allow(ctx context.Context, userID string) error {
	d, err := l.Protect(ctx, userID, 1)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return fmt.Errorf("%w: retry in %s", errs.ErrRateLimited, d.ResetIn.Round(time.Second))
	}
	return nil
}
