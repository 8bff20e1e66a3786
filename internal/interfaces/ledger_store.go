package interfaces

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/models"
)

// LedgerStore is the durable home of accounts, transactions and budgets.
// Every mutation happens inside RunInTx; reads outside it see committed state.
type LedgerStore interface {
	// RunInTx runs fn as one atomic unit. If fn returns an error nothing it
	// did is persisted.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error

	GetAccount(ctx context.Context, id, userID string) (models.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]models.Account, error)
	GetDefaultAccount(ctx context.Context, userID string) (models.Account, error)

	GetTransaction(ctx context.Context, id, userID string) (models.Transaction, error)
	ListTransactions(ctx context.Context, accountID, userID string) ([]models.Transaction, error)
	// FindDueRecurring returns completed recurring transactions that were
	// never processed or whose next date is at or before now.
	FindDueRecurring(ctx context.Context, now time.Time) ([]models.Transaction, error)
	// SumExpenses adds the EXPENSE amounts of an account dated in [from, to].
	SumExpenses(ctx context.Context, userID, accountID string, from, to time.Time) (decimal.Decimal, error)

	ListBudgets(ctx context.Context) ([]models.Budget, error)
	GetBudget(ctx context.Context, userID string) (models.Budget, error)
}

// LedgerTx is the set of operations available inside an atomic unit.
// Account and transaction reads take row locks held until the unit ends.
type LedgerTx interface {
	LockAccount(ctx context.Context, id, userID string) (models.Account, error)
	InsertAccount(ctx context.Context, account models.Account) error
	CountAccounts(ctx context.Context, userID string) (int, error)
	AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) error
	ClearDefault(ctx context.Context, userID string) error
	SetDefault(ctx context.Context, id, userID string) (models.Account, error)

	GetTransaction(ctx context.Context, id, userID string) (models.Transaction, error)
	FindTransactions(ctx context.Context, userID string, ids []string) ([]models.Transaction, error)
	InsertTransaction(ctx context.Context, tx models.Transaction) error
	UpdateTransaction(ctx context.Context, id, userID string, update models.TransactionUpdate) (models.Transaction, error)
	DeleteTransactions(ctx context.Context, userID string, ids []string) (int, error)
	AdvanceSchedule(ctx context.Context, id string, processedAt, next time.Time) error

	UpsertBudget(ctx context.Context, budget models.Budget) (models.Budget, error)
	// LockBudget reads a budget and holds it until the unit ends, so two
	// alert runs cannot both claim the same month.
	LockBudget(ctx context.Context, id string) (models.Budget, error)
	MarkAlertSent(ctx context.Context, budgetID string, at time.Time) error
}
