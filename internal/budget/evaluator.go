// Package budget compares each owner's monthly spending against their budget
// and sends at most one alert per calendar month.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/models"
)

// TemplateBudgetAlert is the template type of alert notifications.
const TemplateBudgetAlert = "budget-alert"

// Template data keys of a budget alert.
const (
	KeyPercentageUsed = "percentageUsed"
	KeyBudgetAmount   = "budgetAmount"
	KeyTotalExpenses  = "totalExpenses"
	KeyAccountName    = "accountName"
	KeyUserName       = "userName"
)

var hundred = decimal.NewFromInt(100)

var errAlreadyAlerted = errors.New("budget already alerted this month")

// Outcome says what Check did with one budget.
type Outcome int

const (
	Alerted Outcome = iota
	SkippedNoAccount
	SkippedUnused
	SkippedAlreadyAlerted
)

func (o Outcome) String() string {
	switch o {
	case Alerted:
		return "alerted"
	case SkippedNoAccount:
		return "skipped_no_default_account"
	case SkippedUnused:
		return "skipped_unused"
	case SkippedAlreadyAlerted:
		return "skipped_already_alerted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Usage is a budget measured against its month's expenses.
type Usage struct {
	Budget         models.Budget
	Account        models.Account
	TotalExpenses  decimal.Decimal
	PercentageUsed decimal.Decimal
}

// Summary counts the outcomes of one Run.
type Summary struct {
	Checked int
	Alerted int
	Skipped int
	Failed  int
}

type Evaluator struct {
	store    interfaces.LedgerStore
	notifier interfaces.Notifier
	now      func() time.Time
	logger   *zap.Logger
}

func NewEvaluator(store interfaces.LedgerStore, notifier interfaces.Notifier, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{store: store, notifier: notifier, now: time.Now, logger: logger}
}

// WithClock replaces time.Now; used by tests.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// MonthBounds returns the first and the last instant of now's calendar month.
func MonthBounds(now time.Time) (from, to time.Time) {
	from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	to = from.AddDate(0, 1, 0).Add(-time.Millisecond)
	return from, to
}

// Measure computes the usage of b in now's month.
func (e *Evaluator) Measure(ctx context.Context, b models.Budget, now time.Time) (Usage, error) {
	account, err := e.store.GetDefaultAccount(ctx, b.UserID)
	if err != nil {
		return Usage{}, fmt.Errorf("default account of %s: %w", b.UserID, err)
	}

	from, to := MonthBounds(now)
	total, err := e.store.SumExpenses(ctx, b.UserID, account.ID, from, to)
	if err != nil {
		return Usage{}, fmt.Errorf("sum expenses of account %s: %w", account.ID, err)
	}

	u := Usage{Budget: b, Account: account, TotalExpenses: total}
	if b.Amount.IsPositive() {
		u.PercentageUsed = total.Div(b.Amount).Mul(hundred)
	}
	return u, nil
}

// Check evaluates one budget and sends its alert when due. The send happens
// inside the unit that marks the budget, with the budget row locked, so
// overlapping runs alert once. A failed send leaves lastAlertSent untouched
// and the next run tries again.
func (e *Evaluator) Check(ctx context.Context, b models.Budget) (Outcome, error) {
	now := e.now()

	u, err := e.Measure(ctx, b, now)
	if errors.Is(err, errs.ErrNotFound) {
		return SkippedNoAccount, nil
	}
	if err != nil {
		return 0, err
	}

	if !u.PercentageUsed.IsPositive() {
		return SkippedUnused, nil
	}
	if b.AlertedInMonthOf(now) {
		return SkippedAlreadyAlerted, nil
	}

	// The copy from ListBudgets may be stale when runs overlap; the locked
	// row decides, and the mark commits only if the send succeeded.
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx interfaces.LedgerTx) error {
		locked, err := tx.LockBudget(ctx, b.ID)
		if err != nil {
			return err
		}
		if locked.AlertedInMonthOf(now) {
			return errAlreadyAlerted
		}
		u.Budget = locked

		if err := e.notifier.Notify(ctx, alertFor(u)); err != nil {
			if errors.Is(err, errs.ErrExternalDispatchFailed) {
				return err
			}
			return fmt.Errorf("%w: %w", errs.ErrExternalDispatchFailed, err)
		}
		return tx.MarkAlertSent(ctx, b.ID, now)
	})
	switch {
	case errors.Is(err, errAlreadyAlerted):
		return SkippedAlreadyAlerted, nil
	case err != nil:
		return 0, fmt.Errorf("budget %s alert: %w", b.ID, err)
	}
	return Alerted, nil
}

// Run checks every budget. One budget's failure is logged and the run moves
// on; the failures are joined into the returned error.
func (e *Evaluator) Run(ctx context.Context) (Summary, error) {
	budgets, err := e.store.ListBudgets(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list budgets: %w", err)
	}

	var (
		sum      Summary
		failures []error
	)
	for _, b := range budgets {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		sum.Checked++

		outcome, err := e.Check(ctx, b)
		if err != nil {
			sum.Failed++
			failures = append(failures, err)
			e.logger.Error("budget check failed",
				zap.String("budget_id", b.ID),
				zap.String("user_id", b.UserID),
				zap.Error(err))
			continue
		}
		if outcome == Alerted {
			sum.Alerted++
		} else {
			sum.Skipped++
		}
		e.logger.Debug("budget checked", zap.String("budget_id", b.ID), zap.Stringer("outcome", outcome))
	}

	e.logger.Info("budget alert run finished",
		zap.Int("checked", sum.Checked),
		zap.Int("alerted", sum.Alerted),
		zap.Int("failed", sum.Failed))
	return sum, errors.Join(failures...)
}

func alertFor(u Usage) interfaces.Notification {
	userName := u.Budget.UserName
	if userName == "" {
		userName = "User"
	}
	return interfaces.Notification{
		To:           u.Budget.Email,
		Subject:      "Budget Alert " + u.Account.Name,
		TemplateType: TemplateBudgetAlert,
		TemplateData: map[string]any{
			KeyPercentageUsed: u.PercentageUsed,
			KeyBudgetAmount:   u.Budget.Amount,
			KeyTotalExpenses:  u.TotalExpenses,
			KeyAccountName:    u.Account.Name,
			KeyUserName:       userName,
		},
	}
}
