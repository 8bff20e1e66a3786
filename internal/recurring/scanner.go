// Package recurring materializes recurring transactions: the scanner finds
// the due ones, the dispatcher throttles the resulting work items per user
// and the processor books each occurrence.
package recurring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/models"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/models/events"
)

// Scanner emits one work item per due recurring transaction. It never
// mutates the ledger, so overlapping runs only produce duplicate items,
// which the processor discards.
type Scanner struct {
	store     interfaces.LedgerStore
	publisher interfaces.EventPublisher
	now       func() time.Time
	logger    *zap.Logger
}

func NewScanner(store interfaces.LedgerStore, publisher interfaces.EventPublisher, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{store: store, publisher: publisher, now: time.Now, logger: logger}
}

// WithClock replaces time.Now; used by tests.
func (s *Scanner) WithClock(now func() time.Time) *Scanner {
	s.now = now
	return s
}

// Due returns the recurring transactions due at now.
func (s *Scanner) Due(ctx context.Context) ([]models.Transaction, error) {
	due, err := s.store.FindDueRecurring(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("find due recurring transactions: %w", err)
	}
	return due, nil
}

// Scan publishes a work item for every due transaction and returns how many
// were published. A failed publish is logged and the scan moves on.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	return s.ScanFunc(ctx, func(ctx context.Context, item events.RecurringDue) error {
		return s.publisher.Publish(ctx, events.TopicRecurringDue, item.UserID, item)
	})
}

// ScanFunc hands every due item to emit instead of the publisher. One-shot
// runs use it to process items without a queue in between.
func (s *Scanner) ScanFunc(ctx context.Context, emit func(ctx context.Context, item events.RecurringDue) error) (int, error) {
	due, err := s.Due(ctx)
	if err != nil {
		return 0, err
	}

	scannedAt := s.now()
	var (
		emitted int
		failed  []error
	)
	for _, t := range due {
		if err := ctx.Err(); err != nil {
			failed = append(failed, err)
			break
		}
		item := events.RecurringDue{TransactionID: t.ID, UserID: t.UserID, ScannedAt: scannedAt}
		if err := emit(ctx, item); err != nil {
			s.logger.Error("failed to emit recurring work item",
				zap.String("transaction_id", t.ID),
				zap.String("user_id", t.UserID),
				zap.Error(err))
			failed = append(failed, err)
			continue
		}
		emitted++
	}

	s.logger.Info("recurring scan finished", zap.Int("due", len(due)), zap.Int("emitted", emitted))
	return emitted, errors.Join(failed...)
}
