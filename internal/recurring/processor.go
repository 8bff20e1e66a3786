package recurring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/ledger"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/models"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/models/events"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/recurrence"
)

// Outcome says what Process did with a work item.
type Outcome int

const (
	Processed Outcome = iota
	SkippedMissing
	SkippedNotDue
)

func (o Outcome) String() string {
	switch o {
	case Processed:
		return "processed"
	case SkippedMissing:
		return "skipped_missing"
	case SkippedNotDue:
		return "skipped_not_due"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the outcome of one work item.
type Result struct {
	Outcome           Outcome
	Generated         models.Transaction
	NextRecurringDate time.Time
}

var (
	errSourceGone = errors.New("recurring source deleted")
	errNotDue     = errors.New("recurring source not due")
)

// Processor books one occurrence of a due recurring transaction.
type Processor struct {
	ledger    *ledger.Ledger
	store     interfaces.LedgerStore
	publisher interfaces.EventPublisher
	now       func() time.Time
	newID     func() string
	logger    *zap.Logger
}

// NewProcessor creates a Processor. publisher may be nil, in which case no
// completion events are sent.
func NewProcessor(l *ledger.Ledger, store interfaces.LedgerStore, publisher interfaces.EventPublisher, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		ledger:    l,
		store:     store,
		publisher: publisher,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
		logger:    logger,
	}
}

// WithClock replaces time.Now; used by tests.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Process books the occurrence described by item. A source that was deleted
// or is no longer due is skipped without error. Inside one unit it creates
// the generated transaction, applies its ledger effect and advances the
// source schedule; any failure leaves all three untouched.
func (p *Processor) Process(ctx context.Context, item events.RecurringDue) (Result, error) {
	log := p.logger.With(zap.String("transaction_id", item.TransactionID), zap.String("user_id", item.UserID))
	now := p.now()

	source, err := p.store.GetTransaction(ctx, item.TransactionID, item.UserID)
	if errors.Is(err, errs.ErrNotFound) {
		log.Info("recurring source gone, skipping")
		return Result{Outcome: SkippedMissing}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load recurring source %s: %w", item.TransactionID, err)
	}
	if !source.IsDue(now) {
		log.Debug("recurring source not due, skipping")
		return Result{Outcome: SkippedNotDue}, nil
	}

	var result Result
	err = p.ledger.Atomically(ctx, []string{source.AccountID}, func(ctx context.Context, tx interfaces.LedgerTx) error {
		locked, err := tx.GetTransaction(ctx, item.TransactionID, item.UserID)
		if errors.Is(err, errs.ErrNotFound) {
			return errSourceGone
		}
		if err != nil {
			return err
		}
		if !locked.IsDue(now) {
			return errNotDue
		}
		if locked.RecurringInterval == nil {
			return fmt.Errorf("%w: recurring transaction %s has no interval", errs.ErrInvalidInterval, locked.ID)
		}

		next, err := recurrence.NextOccurrence(now, *locked.RecurringInterval)
		if err != nil {
			return err
		}

		generated := models.Transaction{
			ID:          p.newID(),
			UserID:      locked.UserID,
			AccountID:   locked.AccountID,
			Type:        locked.Type,
			Amount:      locked.Amount,
			Date:        now,
			Description: locked.Description + models.RecurrenceSuffix,
			Category:    locked.Category,
			IsRecurring: false,
			Status:      models.StatusCompleted,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := ledger.ApplyCreate(ctx, tx, generated); err != nil {
			return err
		}
		if err := tx.AdvanceSchedule(ctx, locked.ID, now, next); err != nil {
			return fmt.Errorf("advance schedule: %w", err)
		}

		result = Result{Outcome: Processed, Generated: generated, NextRecurringDate: next}
		return nil
	})
	switch {
	case errors.Is(err, errSourceGone):
		log.Info("recurring source gone, skipping")
		return Result{Outcome: SkippedMissing}, nil
	case errors.Is(err, errNotDue):
		log.Debug("recurring source processed concurrently, skipping")
		return Result{Outcome: SkippedNotDue}, nil
	case err != nil:
		return Result{}, fmt.Errorf("process recurring transaction %s: %w", item.TransactionID, err)
	}

	log.Info("recurring transaction processed",
		zap.String("generated_id", result.Generated.ID),
		zap.String("account_id", result.Generated.AccountID),
		zap.Time("next_recurring_date", result.NextRecurringDate))
	p.publishCompleted(ctx, source.ID, result)
	return result, nil
}

func (p *Processor) publishCompleted(ctx context.Context, sourceID string, r Result) {
	if p.publisher == nil {
		return
	}
	ev := events.TransactionCompleted{
		TransactionID:     r.Generated.ID,
		SourceID:          sourceID,
		UserID:            r.Generated.UserID,
		AccountID:         r.Generated.AccountID,
		Amount:            r.Generated.Amount,
		Effect:            r.Generated.LedgerEffect(),
		NextRecurringDate: r.NextRecurringDate,
		OccurredAt:        r.Generated.Date,
	}
	if err := p.publisher.Publish(ctx, events.TopicTransactionCompleted, r.Generated.UserID, ev); err != nil {
		p.logger.Warn("failed to publish transaction completed event",
			zap.String("transaction_id", r.Generated.ID),
			zap.Error(err))
	}
}
