// Package storetest checks that a LedgerStore honours the storage contract.
// Every store implementation runs the same suite.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/models"
)

// Factory returns an empty store.
type Factory func(t *testing.T) interfaces.LedgerStore

var base = time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

// Run runs the contract suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s interfaces.LedgerStore)
	}{
		{"AccountsAreOwnerScoped", accountsAreOwnerScoped},
		{"DefaultAccountSwitch", defaultAccountSwitch},
		{"FailedUnitPersistsNothing", failedUnitPersistsNothing},
		{"TransactionsRoundTrip", transactionsRoundTrip},
		{"FindDueRecurring", findDueRecurring},
		{"SumExpensesFilters", sumExpensesFilters},
		{"BudgetUpsertAndAlertMark", budgetUpsertAndAlertMark},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func account(id, userID string, balance int64, isDefault bool) models.Account {
	return models.Account{
		ID:        id,
		UserID:    userID,
		Name:      "acct " + id,
		Type:      models.AccountTypeCurrent,
		Balance:   decimal.NewFromInt(balance),
		IsDefault: isDefault,
		CreatedAt: base,
		UpdatedAt: base,
	}
}

func transaction(id, userID, accountID string, typ models.TransactionType, amount int64, date time.Time) models.Transaction {
	return models.Transaction{
		ID:          id,
		UserID:      userID,
		AccountID:   accountID,
		Type:        typ,
		Amount:      decimal.NewFromInt(amount),
		Date:        date,
		Description: "tx " + id,
		Category:    "misc",
		Status:      models.StatusCompleted,
		CreatedAt:   base,
		UpdatedAt:   base,
	}
}

func unit(t *testing.T, s interfaces.LedgerStore, fn func(ctx context.Context, tx interfaces.LedgerTx) error) {
	t.Helper()
	require.NoError(t, s.RunInTx(context.Background(), fn))
}

func accountsAreOwnerScoped(t *testing.T, s interfaces.LedgerStore) {
	ctx := context.Background()
	unit(t, s, func(ctx context.Context, tx interfaces.LedgerTx) error {
		if err := tx.InsertAccount(ctx, account("a1", "u1", 100, true)); err != nil {
			return err
		}
		return tx.InsertAccount(ctx, account("a2", "u2", 50, true))
	})

	a, err := s.GetAccount(ctx, "a1", "u1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(a.Balance))

	_, err = s.GetAccount(ctx, "a1", "u2")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	err = s.RunInTx(ctx, func(ctx context.Context, tx interfaces.LedgerTx) error {
		_, err := tx.LockAccount(ctx, "a1", "u2")
		return err
	})
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, err, errs.ErrTransactionAborted)

	list, err := s.ListAccounts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a1", list[0].ID)

	var n int
	unit(t, s, func(ctx context.Context, tx interfaces.LedgerTx) error {
		var err error
		n, err = tx.CountAccounts(ctx, "u1")
		return err
	})
	assert.Equal(t, 1, n)
}

func defaultAccountSwitch(t *testing.T, s interfaces.LedgerStore) {
	ctx := context.Background()
	unit(t, s, func(ctx context.Context, tx interfaces.LedgerTx) error {
		if err := tx.InsertAccount(ctx, account("a1", "u1", 0, true)); err != nil {
			return err
		}
		return tx.InsertAccount(ctx, account("a2", "u1", 0, false))
	})

	unit(t, s, func(ctx context.Context, tx interfaces.LedgerTx) error {
		if err := tx.ClearDefault(ctx, "u1"); err != nil {
			return err
		}
		a, err := tx.SetDefault(ctx, "a2", "u1")
		if err == nil && !a.IsDefault {
			err = errors.New("SetDefault returned a non-default account")
		}
		return err
	})

	def, err := s.GetDefaultAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a2", def.ID)

	_, err = s.GetDefaultAccount(ctx, "nobody")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func failedUnitPersistsNothing(t *testing.T, s interfaces.LedgerStore) {
	ctx := context.Background()
	unit(t, s, func(ctx context.Context, tx interfaces.LedgerTx) error {
		return tx.InsertAccount(ctx, account("a1", "u1", 1000, true))
	})

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context, tx interfaces.LedgerTx) error {
		if err := tx.InsertTransaction(ctx, transaction("t1", "u1", "a1", models.TransactionTypeExpense, 200, base)); err != nil {
			return err
		}
		if err := tx.AdjustBalance(ctx, "a1", decimal.NewFromInt(-200)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, errs.ErrTransactionAborted)

	a, err := s.GetAccount(ctx, "a1", "u1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1000).Equal(a.Balance))
	_, err = s.GetTransaction(ctx, "t1", "u1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func transactionsRoundTrip(t *testing.T, s interfaces.LedgerStore) {
	ctx := context.Background()
	monthly := models.IntervalMonthly
	next := base.AddDate(0, 1, 0)

	rec := transaction("t1", "u1", "a1", models.TransactionTypeExpense, 75, base)
	rec.IsRecurring = true
	rec.RecurringInterval = &monthly
	rec.NextRecurringDate = &next

	unit(t, s, func(ctx context.Context, tx interfaces.LedgerTx) error {
		if err := tx.InsertAccount(ctx, account("a1", "u1", 0, true)); err != nil {
			return err
		}
		if err := tx.InsertAccount(ctx, account("a2", "u1", 0, false)); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, rec); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, transaction("t2", "u1", "a1", models.TransactionTypeIncome, 30, base.AddDate(0, 0, 1)))
	})

	got, err := s.GetTransaction(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(75).Equal(got.Amount))
	require.NotNil(t, got.RecurringInterval)
	assert.Equal(t, models.IntervalMonthly, *got.RecurringInterval)
	require.NotNil(t, got.NextRecurringDate)
	assert.True(t, next.Equal(*got.NextRecurringDate))
	assert.Nil(t, got.LastProcessedAt)

	list, err := s.ListTransactions(ctx, "a1", "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t2", list[0].ID, "newest first")

	var updated models.Transaction
	unit(t, s, func(ctx context.Context, tx interfaces.LedgerTx) error {
		var err error
		updated, err = tx.UpdateTransaction(ctx, "t1", "u1", models.TransactionUpdate{
			AccountID:   "a2",
			Type:        models.TransactionTypeIncome,
			Amount:      decimal.NewFromInt(80),
			Date:        base,
			Description: "edited",
			Category:    "misc",
			UpdatedAt:   base.Add(time.Hour),
		})
		return err
	})
	assert.Equal(t, "a2", updated.AccountID)
	assert.False(t, updated.IsRecurring)
	assert.Nil(t, updated.NextRecurringDate)
	assert.Equal(t, models.StatusCompleted, updated.Status)

	processed := base.Add(2 * time.Hour)
	unit(t, s, func(ctx context.Context, tx interfaces.LedgerTx) error {
		return tx.AdvanceSchedule(ctx, "t2", processed, processed.AddDate(0, 0, 7))
	})
	got, err = s.GetTransaction(ctx, "t2", "u1")
	require.NoError(t, err)
	require.NotNil(t, got.LastProcessedAt)
	assert.True(t, processed.Equal(*got.LastProcessedAt))

	var found []models.Transaction
	var deleted int
	unit(t, s, func(ctx context.Context, tx interfaces.LedgerTx) error {
		var err error
		if found, err = tx.FindTransactions(ctx, "u1", []string{"t1", "t2", "missing"}); err != nil {
			return err
		}
		if _, err := tx.FindTransactions(ctx, "u2", []string{"t1"}); err != nil {
			return err
		}
		deleted, err = tx.DeleteTransactions(ctx, "u1", []string{"t1", "t2", "missing"})
		return err
	})
	assert.Len(t, found, 2)
	assert.Equal(t, 2, deleted)
	_, err = s.GetTransaction(ctx, "t1", "u1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func findDueRecurring(t *testing.T, s interfaces.LedgerStore) {
	ctx := context.Background()
	now := base
	yesterday, tomorrow := now.AddDate(0, 0, -1), now.AddDate(0, 0, 1)
	weekly := models.IntervalWeekly

	recurring := func(id string, last, next *time.Time, status models.TransactionStatus) models.Transaction {
		tx := transaction(id, "u1", "a1", models.TransactionTypeExpense, 10, now.AddDate(0, 0, -7))
		tx.IsRecurring = true
		tx.RecurringInterval = &weekly
		tx.LastProcessedAt = last
		tx.NextRecurringDate = next
		tx.Status = status
		return tx
	}
	lastWeek := now.AddDate(0, 0, -7)

	unit(t, s, func(ctx context.Context, tx interfaces.LedgerTx) error {
		if err := tx.InsertAccount(ctx, account("a1", "u1", 0, true)); err != nil {
			return err
		}
		for _, r := range []models.Transaction{
			recurring("due-yesterday", &lastWeek, &yesterday, models.StatusCompleted),
			recurring("due-tomorrow", &lastWeek, &tomorrow, models.StatusCompleted),
			recurring("never-processed", nil, &tomorrow, models.StatusCompleted),
			recurring("pending", nil, &yesterday, models.StatusPending),
			transaction("one-off", "u1", "a1", models.TransactionTypeExpense, 10, yesterday),
		} {
			if err := tx.InsertTransaction(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})

	due, err := s.FindDueRecurring(ctx, now)
	require.NoError(t, err)
	var ids []string
	for _, d := range due {
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []string{"due-yesterday", "never-processed"}, ids)
}

func sumExpensesFilters(t *testing.T, s interfaces.LedgerStore) {
	ctx := context.Background()
	from := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, time.March, 31, 23, 59, 59, 999_000_000, time.UTC)

	unit(t, s, func(ctx context.Context, tx interfaces.LedgerTx) error {
		if err := tx.InsertAccount(ctx, account("a1", "u1", 0, true)); err != nil {
			return err
		}
		if err := tx.InsertAccount(ctx, account("a2", "u1", 0, false)); err != nil {
			return err
		}
		for _, r := range []models.Transaction{
			transaction("in-1", "u1", "a1", models.TransactionTypeExpense, 100, from),
			transaction("in-2", "u1", "a1", models.TransactionTypeExpense, 250, to),
			transaction("income", "u1", "a1", models.TransactionTypeIncome, 999, from.AddDate(0, 0, 3)),
			transaction("feb", "u1", "a1", models.TransactionTypeExpense, 40, from.Add(-time.Second)),
			transaction("apr", "u1", "a1", models.TransactionTypeExpense, 40, to.Add(time.Second)),
			transaction("other-acct", "u1", "a2", models.TransactionTypeExpense, 70, from.AddDate(0, 0, 5)),
		} {
			if err := tx.InsertTransaction(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})

	total, err := s.SumExpenses(ctx, "u1", "a1", from, to)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(350).Equal(total), total.String())

	total, err = s.SumExpenses(ctx, "u2", "a1", from, to)
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func budgetUpsertAndAlertMark(t *testing.T, s interfaces.LedgerStore) {
	ctx := context.Background()

	var first models.Budget
	unit(t, s, func(ctx context.Context, tx interfaces.LedgerTx) error {
		var err error
		first, err = tx.UpsertBudget(ctx, models.Budget{
			ID: "b1", UserID: "u1", Email: "ada@example.com", UserName: "Ada",
			Amount: decimal.NewFromInt(1000), CreatedAt: base, UpdatedAt: base,
		})
		return err
	})

	var second models.Budget
	unit(t, s, func(ctx context.Context, tx interfaces.LedgerTx) error {
		var err error
		second, err = tx.UpsertBudget(ctx, models.Budget{
			ID: "b2", UserID: "u1", Amount: decimal.NewFromInt(1500), CreatedAt: base, UpdatedAt: base,
		})
		return err
	})
	assert.Equal(t, first.ID, second.ID, "one budget per user")
	assert.Equal(t, "ada@example.com", second.Email)
	assert.True(t, decimal.NewFromInt(1500).Equal(second.Amount))

	at := base.Add(time.Hour)
	unit(t, s, func(ctx context.Context, tx interfaces.LedgerTx) error {
		locked, err := tx.LockBudget(ctx, first.ID)
		if err != nil {
			return err
		}
		assert.Nil(t, locked.LastAlertSent)
		return tx.MarkAlertSent(ctx, first.ID, at)
	})

	err := s.RunInTx(ctx, func(ctx context.Context, tx interfaces.LedgerTx) error {
		_, err := tx.LockBudget(ctx, "missing")
		return err
	})
	assert.ErrorIs(t, err, errs.ErrNotFound)

	budgets, err := s.ListBudgets(ctx)
	require.NoError(t, err)
	require.Len(t, budgets, 1)
	require.NotNil(t, budgets[0].LastAlertSent)
	assert.True(t, at.Equal(*budgets[0].LastAlertSent))

	_, err = s.GetBudget(ctx, "u2")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
