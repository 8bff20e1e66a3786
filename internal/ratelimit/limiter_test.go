package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func stores(t *testing.T) map[string]interfaces.CounterStore {
	t.Helper()
	g, err := OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	return map[string]interfaces.CounterStore{
		"memory": NewMemoryStore(),
		"gorm":   g,
	}
}

func TestLimiterDeniesEleventhAction(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			c := &clock{t: time.Date(2025, time.May, 1, 8, 0, 0, 0, time.UTC)}
			l := New(store, 10, 24*time.Hour).WithClock(c.now)
			ctx := context.Background()

			for i := 0; i < 10; i++ {
				d, err := l.Protect(ctx, "u1", 1)
				require.NoError(t, err)
				require.True(t, d.Allowed, "action %d", i+1)
				assert.Equal(t, 10-(i+1), d.Remaining)
				c.t = c.t.Add(time.Hour)
			}

			d, err := l.Protect(ctx, "u1", 1)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, 0, d.Remaining)
			assert.ErrorIs(t, l.Allow(ctx, "u1"), errs.ErrRateLimited)

			// Other users keep their own window.
			assert.NoError(t, l.Allow(ctx, "u2"))
		})
	}
}

func TestLimiterResetsAfterWindow(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			start := time.Date(2025, time.May, 1, 8, 0, 0, 0, time.UTC)
			c := &clock{t: start}
			l := New(store, 10, 24*time.Hour).WithClock(c.now)
			ctx := context.Background()

			d, err := l.Protect(ctx, "u1", 10)
			require.NoError(t, err)
			require.True(t, d.Allowed)
			require.ErrorIs(t, l.Allow(ctx, "u1"), errs.ErrRateLimited)

			// Exactly at the reset instant the window still holds.
			c.t = start.Add(24 * time.Hour)
			require.ErrorIs(t, l.Allow(ctx, "u1"), errs.ErrRateLimited)

			c.t = start.Add(24*time.Hour + time.Second)
			d, err = l.Protect(ctx, "u1", 1)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, 9, d.Remaining)
			assert.Equal(t, 24*time.Hour, d.ResetIn)
		})
	}
}

func TestDenialDoesNotConsume(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			c := &clock{t: time.Date(2025, time.May, 1, 8, 0, 0, 0, time.UTC)}
			l := New(store, 10, 24*time.Hour).WithClock(c.now)
			ctx := context.Background()

			d, err := l.Protect(ctx, "u1", 8)
			require.NoError(t, err)
			require.True(t, d.Allowed)

			d, err = l.Protect(ctx, "u1", 3)
			require.NoError(t, err)
			assert.False(t, d.Allowed)

			// The denied request left room for two more.
			d, err = l.Protect(ctx, "u1", 2)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, 0, d.Remaining)
		})
	}
}

func TestGormStoreSurvivesReopen(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	first, err := OpenSQLite(dsn)
	require.NoError(t, err)
	now := time.Date(2025, time.May, 1, 8, 0, 0, 0, time.UTC)

	w, err := first.Take(context.Background(), "u1", 4, 10, time.Hour, now)
	require.NoError(t, err)
	require.True(t, w.Allowed)

	second, err := NewGormStore(first.db)
	require.NoError(t, err)
	w, err = second.Take(context.Background(), "u1", 1, 10, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 5, w.Count)
}
