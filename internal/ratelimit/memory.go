package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
)

// MemoryStore keeps windows in process memory. It is only correct for a
// single instance; use GormStore when instances share limits.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]window
}

type window struct {
	count   int
	resetAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]window)}
}

func (m *MemoryStore) Take(ctx context.Context, key string, requested, limit int, span time.Duration, now time.Time) (interfaces.Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || now.After(w.resetAt) {
		w = window{count: 0, resetAt: now.Add(span)}
	}

	allowed := w.count+requested <= limit
	if allowed {
		w.count += requested
	}
	m.windows[key] = w

	return interfaces.Window{Allowed: allowed, Count: w.count, ResetAt: w.resetAt}, nil
}

var _ interfaces.CounterStore = (*MemoryStore)(nil)
