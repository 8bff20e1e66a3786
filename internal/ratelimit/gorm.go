package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
)

// RateLimitWindow is the durable row behind one user's counter.
type RateLimitWindow struct {
	UserKey   string `gorm:"primaryKey"`
	Count     int
	ResetAt   time.Time
	UpdatedAt time.Time
}

// GormStore keeps windows in a SQL table so they survive restarts and are
// shared by every instance pointing at the same database.
type GormStore struct {
	db *gorm.DB
	mu sync.Mutex // serializes local writers; the row lock covers remote ones
}

// OpenSQLite opens (or creates) the counter database at path.
func OpenSQLite(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rate limit database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return NewGormStore(db)
}

// NewGormStore migrates the window table on db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&RateLimitWindow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate rate limit schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (g *GormStore) Take(ctx context.Context, key string, requested, limit int, span time.Duration, now time.Time) (interfaces.Window, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var result interfaces.Window
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w RateLimitWindow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_key = ?", key).First(&w).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			w = RateLimitWindow{UserKey: key, ResetAt: now.Add(span)}
		case err != nil:
			return err
		}

		if now.After(w.ResetAt) {
			w.Count = 0
			w.ResetAt = now.Add(span)
		}

		allowed := w.Count+requested <= limit
		if allowed {
			w.Count += requested
		}
		if err := tx.Save(&w).Error; err != nil {
			return err
		}

		result = interfaces.Window{Allowed: allowed, Count: w.Count, ResetAt: w.ResetAt}
		return nil
	})
	if err != nil {
		return interfaces.Window{}, fmt.Errorf("take %s: %w", key, err)
	}
	return result, nil
}

var _ interfaces.CounterStore = (*GormStore)(nil)

func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
