package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/models"
)

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// A unit holds the writer lock for its whole duration and works on a staged
// copy of the tables that replaces the live ones only on success, so units
// are serializable and all-or-nothing.
type MemoryLedgerStore struct {
	mu    sync.RWMutex // writers hold it for a whole unit, readers share it
	state tables       // committed tables
}

type tables struct {
	accounts     map[string]models.Account     // accounts by id
	transactions map[string]models.Transaction // transactions by id
	budgets      map[string]models.Budget      // budgets by id, one per user
}

func (t tables) clone() tables {
	return tables{
		accounts:     maps.Clone(t.accounts),
		transactions: maps.Clone(t.transactions),
		budgets:      maps.Clone(t.budgets),
	}
}

// NewMemoryLedgerStore creates an empty store.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		state: tables{
			accounts:     make(map[string]models.Account),
			transactions: make(map[string]models.Transaction),
			budgets:      make(map[string]models.Budget),
		},
	}
}

// RunInTx implements interfaces.LedgerStore.
func (m *MemoryLedgerStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.LedgerTx) error) error {
	m.mu.Lock()         // lock the mutex to prevent concurrent units
	defer m.mu.Unlock() // unlock automatically when the unit ends, even on error

	if err := ctx.Err(); err != nil {
		return errs.Aborted(err)
	}

	staged := &memTx{t: m.state.clone()} // the unit works on a copy
	if err := fn(ctx, staged); err != nil {
		return errs.Aborted(err) // drop the copy, nothing is persisted
	}
	m.state = staged.t // commit
	return nil
}

func (m *MemoryLedgerStore) GetAccount(ctx context.Context, id, userID string) (models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return findAccount(m.state, id, userID)
}

func (m *MemoryLedgerStore) ListAccounts(ctx context.Context, userID string) ([]models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []models.Account
	for _, a := range m.state.accounts {
		if a.UserID == userID {
			result = append(result, a)
		}
	}
	slices.SortFunc(result, func(a, b models.Account) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return result, nil
}

func (m *MemoryLedgerStore) GetDefaultAccount(ctx context.Context, userID string) (models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.state.accounts {
		if a.UserID == userID && a.IsDefault {
			return a, nil
		}
	}
	return models.Account{}, fmt.Errorf("default account of user %s: %w", userID, errs.ErrNotFound)
}

func (m *MemoryLedgerStore) GetTransaction(ctx context.Context, id, userID string) (models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return findTransaction(m.state, id, userID)
}

func (m *MemoryLedgerStore) ListTransactions(ctx context.Context, accountID, userID string) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := findAccount(m.state, accountID, userID); err != nil {
		return nil, err
	}
	var result []models.Transaction
	for _, t := range m.state.transactions {
		if t.AccountID == accountID && t.UserID == userID {
			result = append(result, t)
		}
	}
	slices.SortFunc(result, func(a, b models.Transaction) int { return b.Date.Compare(a.Date) })
	return result, nil
}

func (m *MemoryLedgerStore) FindDueRecurring(ctx context.Context, now time.Time) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []models.Transaction
	for _, t := range m.state.transactions {
		if t.Status == models.StatusCompleted && t.IsDue(now) {
			result = append(result, t)
		}
	}
	slices.SortFunc(result, func(a, b models.Transaction) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return result, nil
}

func (m *MemoryLedgerStore) SumExpenses(ctx context.Context, userID, accountID string, from, to time.Time) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := decimal.Zero
	for _, t := range m.state.transactions {
		if t.UserID != userID || t.AccountID != accountID || t.Type != models.TransactionTypeExpense {
			continue
		}
		if t.Date.Before(from) || t.Date.After(to) {
			continue
		}
		total = total.Add(t.Amount)
	}
	return total, nil
}

func (m *MemoryLedgerStore) ListBudgets(ctx context.Context) ([]models.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := slices.Collect(maps.Values(m.state.budgets))
	slices.SortFunc(result, func(a, b models.Budget) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return result, nil
}

func (m *MemoryLedgerStore) GetBudget(ctx context.Context, userID string) (models.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.state.budgets {
		if b.UserID == userID {
			return b, nil
		}
	}
	return models.Budget{}, fmt.Errorf("budget of user %s: %w", userID, errs.ErrNotFound)
}

// memTx is the staged view a unit works on.
type memTx struct {
	t tables
}

func (x *memTx) LockAccount(ctx context.Context, id, userID string) (models.Account, error) {
	// the unit already holds the writer lock, so this is a plain owner-scoped read
	return findAccount(x.t, id, userID)
}

func (x *memTx) InsertAccount(ctx context.Context, account models.Account) error {
	if _, exists := x.t.accounts[account.ID]; exists {
		return fmt.Errorf("account %s already exists", account.ID)
	}
	x.t.accounts[account.ID] = account
	return nil
}

func (x *memTx) CountAccounts(ctx context.Context, userID string) (int, error) {
	n := 0
	for _, a := range x.t.accounts {
		if a.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (x *memTx) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) error {
	a, ok := x.t.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, errs.ErrNotFound)
	}
	a.Balance = a.Balance.Add(delta) // relative change, like balance = balance + $1
	x.t.accounts[accountID] = a
	return nil
}

func (x *memTx) ClearDefault(ctx context.Context, userID string) error {
	for id, a := range x.t.accounts {
		if a.UserID == userID && a.IsDefault {
			a.IsDefault = false
			x.t.accounts[id] = a
		}
	}
	return nil
}

func (x *memTx) SetDefault(ctx context.Context, id, userID string) (models.Account, error) {
	a, err := findAccount(x.t, id, userID)
	if err != nil {
		return models.Account{}, err
	}
	a.IsDefault = true
	x.t.accounts[id] = a
	return a, nil
}

func (x *memTx) GetTransaction(ctx context.Context, id, userID string) (models.Transaction, error) {
	return findTransaction(x.t, id, userID)
}

func (x *memTx) FindTransactions(ctx context.Context, userID string, ids []string) ([]models.Transaction, error) {
	var result []models.Transaction
	for _, id := range ids {
		if t, ok := x.t.transactions[id]; ok && t.UserID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (x *memTx) InsertTransaction(ctx context.Context, tx models.Transaction) error {
	if _, exists := x.t.transactions[tx.ID]; exists {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	x.t.transactions[tx.ID] = tx
	return nil
}

func (x *memTx) UpdateTransaction(ctx context.Context, id, userID string, update models.TransactionUpdate) (models.Transaction, error) {
	t, err := findTransaction(x.t, id, userID)
	if err != nil {
		return models.Transaction{}, err
	}
	t = update.Apply(t)
	x.t.transactions[id] = t
	return t, nil
}

func (x *memTx) DeleteTransactions(ctx context.Context, userID string, ids []string) (int, error) {
	n := 0
	for _, id := range ids {
		if t, ok := x.t.transactions[id]; ok && t.UserID == userID {
			delete(x.t.transactions, id)
			n++
		}
	}
	return n, nil
}

func (x *memTx) AdvanceSchedule(ctx context.Context, id string, processedAt, next time.Time) error {
	t, ok := x.t.transactions[id]
	if !ok {
		return fmt.Errorf("transaction %s: %w", id, errs.ErrNotFound)
	}
	t.LastProcessedAt = &processedAt
	t.NextRecurringDate = &next
	t.UpdatedAt = processedAt
	x.t.transactions[id] = t
	return nil
}

func (x *memTx) UpsertBudget(ctx context.Context, budget models.Budget) (models.Budget, error) {
	for id, b := range x.t.budgets {
		if b.UserID == budget.UserID {
			b.Amount = budget.Amount
			if budget.Email != "" {
				b.Email = budget.Email
			}
			if budget.UserName != "" {
				b.UserName = budget.UserName
			}
			b.UpdatedAt = budget.UpdatedAt
			x.t.budgets[id] = b
			return b, nil
		}
	}
	x.t.budgets[budget.ID] = budget
	return budget, nil
}

// LockBudget needs no row lock here: the unit already holds the writer lock.
func (x *memTx) LockBudget(ctx context.Context, id string) (models.Budget, error) {
	b, ok := x.t.budgets[id]
	if !ok {
		return models.Budget{}, fmt.Errorf("budget %s: %w", id, errs.ErrNotFound)
	}
	return b, nil
}

func (x *memTx) MarkAlertSent(ctx context.Context, budgetID string, at time.Time) error {
	b, ok := x.t.budgets[budgetID]
	if !ok {
		return fmt.Errorf("budget %s: %w", budgetID, errs.ErrNotFound)
	}
	b.LastAlertSent = &at
	b.UpdatedAt = at
	x.t.budgets[budgetID] = b
	return nil
}

func findAccount(t tables, id, userID string) (models.Account, error) {
	a, ok := t.accounts[id]
	if !ok || a.UserID != userID {
		return models.Account{}, fmt.Errorf("account %s: %w", id, errs.ErrNotFound)
	}
	return a, nil
}

func findTransaction(t tables, id, userID string) (models.Transaction, error) {
	tx, ok := t.transactions[id]
	if !ok || tx.UserID != userID {
		return models.Transaction{}, fmt.Errorf("transaction %s: %w", id, errs.ErrNotFound)
	}
	return tx, nil
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
var _ interfaces.LedgerTx = (*memTx)(nil)
