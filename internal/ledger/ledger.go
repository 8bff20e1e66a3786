package ledger

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/models"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/recurrence"
)

// Ledger keeps account balances consistent with the transactions booked
// against them. Every balance change commits in the same unit as the
// transaction change that causes it.
type Ledger struct {
	store  interfaces.LedgerStore // storage layer, memory or Postgres
	muMap  map[string]*sync.Mutex // stores the *sync.Mutex for each account
	mapMu  sync.Mutex             // protects the muMap itself
	now    func() time.Time       // clock, replaced in tests
	newID  func() string          // id generator for accounts and transactions
	logger *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// NewLedger creates a Ledger on top of store.
func NewLedger(store interfaces.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		muMap:  make(map[string]*sync.Mutex),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) getAccountLock(accountID string) *sync.Mutex {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	if _, exists := l.muMap[accountID]; !exists {
		l.muMap[accountID] = &sync.Mutex{}
	}
	return l.muMap[accountID]
}

// lockAccounts takes the process-local locks of the given accounts in id
// order, so two callers locking the same pair cannot deadlock.
func (l *Ledger) lockAccounts(accountIDs ...string) (unlock func()) {
	// Lock in order to avoid deadlocks, once per account
	ids := slices.Clone(accountIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	locks := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		mu := l.getAccountLock(id)
		mu.Lock()
		locks = append(locks, mu)
	}
	// Release in reverse order
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// Atomically runs fn as one atomic unit while holding the process-local
// locks of accountIDs. Rows fn touches are additionally locked by the store.
func (l *Ledger) Atomically(ctx context.Context, accountIDs []string, fn func(ctx context.Context, tx interfaces.LedgerTx) error) error {
	unlock := l.lockAccounts(accountIDs...)
	defer unlock()

	return l.store.RunInTx(ctx, fn)
}

// ApplyCreate inserts t and moves its account balance by t's ledger effect.
// It must run inside a unit.
func ApplyCreate(ctx context.Context, tx interfaces.LedgerTx, t models.Transaction) error {
	if _, err := tx.LockAccount(ctx, t.AccountID, t.UserID); err != nil {
		return err
	}
	if err := tx.InsertTransaction(ctx, t); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	if err := tx.AdjustBalance(ctx, t.AccountID, t.LedgerEffect()); err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}
	return nil
}

// CreateAccount opens an account. The owner's first account is always the
// default one; a new default clears the previous one in the same unit.
func (l *Ledger) CreateAccount(ctx context.Context, userID string, in models.AccountInput) (models.Account, error) {
	if in.Name == "" {
		return models.Account{}, errs.Invalid("account name is required")
	}
	if !in.Type.Valid() {
		return models.Account{}, errs.Invalid("account type %q", in.Type)
	}
	if in.Balance.IsNegative() {
		return models.Account{}, errs.Invalid("initial balance %s is negative", in.Balance)
	}

	now := l.now()
	account := models.Account{
		ID:        l.newID(),
		UserID:    userID,
		Name:      in.Name,
		Type:      in.Type,
		Balance:   in.Balance,
		IsDefault: in.IsDefault,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := l.store.RunInTx(ctx, func(ctx context.Context, tx interfaces.LedgerTx) error {
		n, err := tx.CountAccounts(ctx, userID)
		if err != nil {
			return err
		}
		// The first account becomes the default one
		if n == 0 {
			account.IsDefault = true
		}
		if account.IsDefault {
			if err := tx.ClearDefault(ctx, userID); err != nil {
				return err
			}
		}
		return tx.InsertAccount(ctx, account)
	})
	if err != nil {
		return models.Account{}, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

// SetDefaultAccount makes accountID the owner's only default account.
func (l *Ledger) SetDefaultAccount(ctx context.Context, userID, accountID string) (models.Account, error) {
	var account models.Account
	err := l.store.RunInTx(ctx, func(ctx context.Context, tx interfaces.LedgerTx) error {
		if _, err := tx.LockAccount(ctx, accountID, userID); err != nil {
			return err
		}
		if err := tx.ClearDefault(ctx, userID); err != nil {
			return err
		}
		var err error
		account, err = tx.SetDefault(ctx, accountID, userID)
		return err
	})
	if err != nil {
		return models.Account{}, fmt.Errorf("set default account: %w", err)
	}
	return account, nil
}

// CreateTransaction books a user-submitted transaction.
func (l *Ledger) CreateTransaction(ctx context.Context, userID string, in models.TransactionInput) (models.Transaction, error) {
	next, err := validateInput(in)
	if err != nil {
		return models.Transaction{}, err
	}

	now := l.now()
	t := models.Transaction{
		ID:                l.newID(),
		UserID:            userID,
		AccountID:         in.AccountID,
		Type:              in.Type,
		Amount:            in.Amount,
		Date:              in.Date,
		Description:       in.Description,
		Category:          in.Category,
		ReceiptURL:        in.ReceiptURL,
		IsRecurring:       in.IsRecurring,
		RecurringInterval: recurringInterval(in),
		NextRecurringDate: next,
		Status:            models.StatusCompleted,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = l.Atomically(ctx, []string{t.AccountID}, func(ctx context.Context, tx interfaces.LedgerTx) error {
		return ApplyCreate(ctx, tx, t)
	})
	if err != nil {
		return models.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	l.logger.Debug("transaction created",
		zap.String("transaction_id", t.ID),
		zap.String("account_id", t.AccountID),
		zap.String("effect", t.LedgerEffect().String()))
	return t, nil
}

// UpdateTransaction replaces the editable fields of a transaction. When the
// account is unchanged the balance moves by newEffect - oldEffect; when the
// transaction moves to another account the old account loses oldEffect and
// the new one gains newEffect.
func (l *Ledger) UpdateTransaction(ctx context.Context, userID, id string, in models.TransactionInput) (models.Transaction, error) {
	next, err := validateInput(in)
	if err != nil {
		return models.Transaction{}, err
	}

	original, err := l.store.GetTransaction(ctx, id, userID)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	update := models.TransactionUpdate{
		AccountID:         in.AccountID,
		Type:              in.Type,
		Amount:            in.Amount,
		Date:              in.Date,
		Description:       in.Description,
		Category:          in.Category,
		ReceiptURL:        in.ReceiptURL,
		IsRecurring:       in.IsRecurring,
		RecurringInterval: recurringInterval(in),
		NextRecurringDate: next,
		UpdatedAt:         l.now(),
	}

	var updated models.Transaction
	err = l.Atomically(ctx, []string{original.AccountID, in.AccountID}, func(ctx context.Context, tx interfaces.LedgerTx) error {
		old, err := tx.GetTransaction(ctx, id, userID)
		if err != nil {
			return err
		}
		if err := lockInOrder(ctx, tx, userID, old.AccountID, in.AccountID); err != nil {
			return err
		}

		// Effect of the stored version and of the edited one on a balance
		oldEffect := old.LedgerEffect()
		newEffect := models.SignedAmount(in.Type, in.Amount)

		if old.AccountID == in.AccountID {
			if delta := newEffect.Sub(oldEffect); !delta.IsZero() {
				if err := tx.AdjustBalance(ctx, old.AccountID, delta); err != nil {
					return err
				}
			}
		} else {
			// Moved: undo on the old account, book on the new one
			if err := tx.AdjustBalance(ctx, old.AccountID, oldEffect.Neg()); err != nil {
				return err
			}
			if err := tx.AdjustBalance(ctx, in.AccountID, newEffect); err != nil {
				return err
			}
		}

		updated, err = tx.UpdateTransaction(ctx, id, userID, update)
		return err
	})
	if err != nil {
		return models.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	return updated, nil
}

// DeleteTransactions removes the caller's transactions among ids and reverses
// their effect on each account with one aggregate adjustment per account.
// Unknown ids are ignored. It returns the number of deleted rows.
func (l *Ledger) DeleteTransactions(ctx context.Context, userID string, ids []string) (int, error) {
	ids = slices.Compact(slices.Sorted(slices.Values(ids)))
	if len(ids) == 0 {
		return 0, nil
	}

	// Collect the accounts to lock up front; ids that are not the caller's
	// are skipped here and ignored by the store later
	var accountIDs []string
	for _, id := range ids {
		if t, err := l.store.GetTransaction(ctx, id, userID); err == nil {
			accountIDs = append(accountIDs, t.AccountID)
		}
	}

	var deleted int
	err := l.Atomically(ctx, accountIDs, func(ctx context.Context, tx interfaces.LedgerTx) error {
		found, err := tx.FindTransactions(ctx, userID, ids)
		if err != nil {
			return err
		}

		reversals := ReversalsByAccount(found)
		for _, accountID := range slices.Sorted(maps.Keys(reversals)) {
			if _, err := tx.LockAccount(ctx, accountID, userID); err != nil {
				return err
			}
		}

		// Delete the rows, then apply one reversal per account
		if deleted, err = tx.DeleteTransactions(ctx, userID, ids); err != nil {
			return err
		}
		for _, accountID := range slices.Sorted(maps.Keys(reversals)) {
			if err := tx.AdjustBalance(ctx, accountID, reversals[accountID]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete transactions: %w", err)
	}
	return deleted, nil
}

// ReversalsByAccount sums, per account, the balance change that undoes the
// given transactions.
func ReversalsByAccount(transactions []models.Transaction) map[string]decimal.Decimal {
	reversals := make(map[string]decimal.Decimal)
	for _, t := range transactions {
		reversals[t.AccountID] = reversals[t.AccountID].Add(t.LedgerEffect().Neg())
	}
	return reversals
}

// GetBalance returns the current balance of an account.
func (l *Ledger) GetBalance(ctx context.Context, userID, accountID string) (decimal.Decimal, error) {
	account, err := l.store.GetAccount(ctx, accountID, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

func (l *Ledger) GetTransaction(ctx context.Context, userID, id string) (models.Transaction, error) {
	return l.store.GetTransaction(ctx, id, userID)
}

func (l *Ledger) ListAccounts(ctx context.Context, userID string) ([]models.Account, error) {
	return l.store.ListAccounts(ctx, userID)
}

func (l *Ledger) ListAccountTransactions(ctx context.Context, userID, accountID string) ([]models.Transaction, error) {
	return l.store.ListTransactions(ctx, accountID, userID)
}

func (l *Ledger) GetBudget(ctx context.Context, userID string) (models.Budget, error) {
	return l.store.GetBudget(ctx, userID)
}

// SetBudget creates or replaces the owner's monthly budget.
func (l *Ledger) SetBudget(ctx context.Context, userID, email, userName string, amount decimal.Decimal) (models.Budget, error) {
	if !amount.IsPositive() {
		return models.Budget{}, errs.Invalid("budget amount %s must be positive", amount)
	}

	now := l.now()
	var budget models.Budget
	err := l.store.RunInTx(ctx, func(ctx context.Context, tx interfaces.LedgerTx) error {
		var err error
		budget, err = tx.UpsertBudget(ctx, models.Budget{
			ID:        l.newID(),
			UserID:    userID,
			Email:     email,
			UserName:  userName,
			Amount:    amount,
			CreatedAt: now,
			UpdatedAt: now,
		})
		return err
	})
	if err != nil {
		return models.Budget{}, fmt.Errorf("set budget: %w", err)
	}
	return budget, nil
}

func lockInOrder(ctx context.Context, tx interfaces.LedgerTx, userID string, accountIDs ...string) error {
	ids := slices.Compact(slices.Sorted(slices.Values(accountIDs)))
	for _, id := range ids {
		if _, err := tx.LockAccount(ctx, id, userID); err != nil {
			return err
		}
	}
	return nil
}

func validateInput(in models.TransactionInput) (*time.Time, error) {
	switch {
	case in.AccountID == "":
		return nil, errs.Invalid("account is required")
	case !in.Type.Valid():
		return nil, errs.Invalid("transaction type %q", in.Type)
	case !in.Amount.IsPositive():
		return nil, errs.Invalid("amount %s must be positive", in.Amount)
	case in.Date.IsZero():
		return nil, errs.Invalid("date is required")
	case in.Category == "":
		return nil, errs.Invalid("category is required")
	}

	if !in.IsRecurring {
		return nil, nil
	}
	if in.RecurringInterval == nil {
		return nil, errs.Invalid("recurring interval is required for recurring transactions")
	}
	next, err := recurrence.NextOccurrence(in.Date, *in.RecurringInterval)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidInput, err)
	}
	return &next, nil
}

func recurringInterval(in models.TransactionInput) *models.RecurringInterval {
	if !in.IsRecurring {
		return nil
	}
	return in.RecurringInterval
}
