package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/models"
)

//go:embed schema.sql
var schema string

// PostgresLedgerStore keeps the ledger in Postgres. Units run in a
// read-committed transaction; account and transaction rows touched by a unit
// are locked with SELECT ... FOR UPDATE and balances move with
// balance = balance + $1, so concurrent writers on one account serialize.
type PostgresLedgerStore struct {
	db *sql.DB
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db: db,
	}
}

// Open connects with the lib/pq driver and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate creates the tables if they do not exist yet.
func (p *PostgresLedgerStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *PostgresLedgerStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.LedgerTx) error) (err error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Aborted(err)
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	if err = fn(ctx, &pgTx{q: dbTx}); err != nil {
		return errs.Aborted(err)
	}
	if err = dbTx.Commit(); err != nil {
		return errs.Aborted(err)
	}
	return nil
}

const accountColumns = `id, user_id, name, type, balance, is_default, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Type, &a.Balance, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func getAccount(ctx context.Context, q querier, id, userID string, lock bool) (models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 AND user_id = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	a, err := scanAccount(q.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, fmt.Errorf("account %s: %w", id, errs.ErrNotFound)
	}
	return a, err
}

func (p *PostgresLedgerStore) GetAccount(ctx context.Context, id, userID string) (models.Account, error) {
	return getAccount(ctx, p.db, id, userID, false)
}

func (p *PostgresLedgerStore) ListAccounts(ctx context.Context, userID string) ([]models.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := p.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (p *PostgresLedgerStore) GetDefaultAccount(ctx context.Context, userID string) (models.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 AND is_default LIMIT 1`

	a, err := scanAccount(p.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, fmt.Errorf("default account of user %s: %w", userID, errs.ErrNotFound)
	}
	return a, err
}

const transactionColumns = `id, user_id, account_id, type, amount, date, description, category, receipt_url,
	is_recurring, recurring_interval, last_processed_at, next_recurring_date, status, created_at, updated_at`

func scanTransaction(row interface{ Scan(...any) error }) (models.Transaction, error) {
	var (
		t        models.Transaction
		interval sql.NullString
		lastRun  sql.NullTime
		nextRun  sql.NullTime
	)
	err := row.Scan(&t.ID, &t.UserID, &t.AccountID, &t.Type, &t.Amount, &t.Date, &t.Description, &t.Category,
		&t.ReceiptURL, &t.IsRecurring, &interval, &lastRun, &nextRun, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return models.Transaction{}, err
	}
	if interval.Valid {
		i := models.RecurringInterval(interval.String)
		t.RecurringInterval = &i
	}
	if lastRun.Valid {
		t.LastProcessedAt = &lastRun.Time
	}
	if nextRun.Valid {
		t.NextRecurringDate = &nextRun.Time
	}
	return t, nil
}

func scanTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	defer rows.Close()

	var result []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func getTransaction(ctx context.Context, q querier, id, userID string, lock bool) (models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 AND user_id = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	t, err := scanTransaction(q.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, fmt.Errorf("transaction %s: %w", id, errs.ErrNotFound)
	}
	return t, err
}

func (p *PostgresLedgerStore) GetTransaction(ctx context.Context, id, userID string) (models.Transaction, error) {
	return getTransaction(ctx, p.db, id, userID, false)
}

func (p *PostgresLedgerStore) ListTransactions(ctx context.Context, accountID, userID string) ([]models.Transaction, error) {
	if _, err := p.GetAccount(ctx, accountID, userID); err != nil {
		return nil, err
	}

	const query = `SELECT ` + transactionColumns + ` FROM transactions
	WHERE account_id = $1 AND user_id = $2 ORDER BY date DESC`

	rows, err := p.db.QueryContext(ctx, query, accountID, userID)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (p *PostgresLedgerStore) FindDueRecurring(ctx context.Context, now time.Time) ([]models.Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions
	WHERE is_recurring AND status = $1
	AND (last_processed_at IS NULL OR next_recurring_date <= $2)
	ORDER BY created_at`

	rows, err := p.db.QueryContext(ctx, query, models.StatusCompleted, now)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (p *PostgresLedgerStore) SumExpenses(ctx context.Context, userID, accountID string, from, to time.Time) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM transactions
	WHERE user_id = $1 AND account_id = $2 AND type = $3 AND date >= $4 AND date <= $5`

	var total decimal.Decimal
	err := p.db.QueryRowContext(ctx, query, userID, accountID, models.TransactionTypeExpense, from, to).Scan(&total)
	return total, err
}

const budgetColumns = `id, user_id, email, user_name, amount, last_alert_sent, created_at, updated_at`

func scanBudget(row interface{ Scan(...any) error }) (models.Budget, error) {
	var (
		b    models.Budget
		last sql.NullTime
	)
	if err := row.Scan(&b.ID, &b.UserID, &b.Email, &b.UserName, &b.Amount, &last, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return models.Budget{}, err
	}
	if last.Valid {
		b.LastAlertSent = &last.Time
	}
	return b, nil
}

func (p *PostgresLedgerStore) ListBudgets(ctx context.Context) ([]models.Budget, error) {
	const query = `SELECT ` + budgetColumns + ` FROM budgets ORDER BY created_at`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var budgets []models.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

func (p *PostgresLedgerStore) GetBudget(ctx context.Context, userID string) (models.Budget, error) {
	const query = `SELECT ` + budgetColumns + ` FROM budgets WHERE user_id = $1`

	b, err := scanBudget(p.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Budget{}, fmt.Errorf("budget of user %s: %w", userID, errs.ErrNotFound)
	}
	return b, err
}

// pgTx is the LedgerTx bound to one database transaction.
type pgTx struct {
	q querier
}

func (x *pgTx) LockAccount(ctx context.Context, id, userID string) (models.Account, error) {
	return getAccount(ctx, x.q, id, userID, true)
}

func (x *pgTx) InsertAccount(ctx context.Context, a models.Account) error {
	const query = `INSERT INTO accounts (` + accountColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err := x.q.ExecContext(ctx, query, a.ID, a.UserID, a.Name, a.Type, a.Balance, a.IsDefault, a.CreatedAt, a.UpdatedAt)
	return err
}

func (x *pgTx) CountAccounts(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM accounts WHERE user_id = $1`

	var n int
	err := x.q.QueryRowContext(ctx, query, userID).Scan(&n)
	return n, err
}

func (x *pgTx) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) error {
	const query = `UPDATE accounts SET balance = balance + $1, updated_at = now() WHERE id = $2`

	res, err := x.q.ExecContext(ctx, query, delta, accountID)
	if err != nil {
		return err
	}
	return expectRow(res, "account", accountID)
}

func (x *pgTx) ClearDefault(ctx context.Context, userID string) error {
	const query = `UPDATE accounts SET is_default = FALSE WHERE user_id = $1 AND is_default`

	_, err := x.q.ExecContext(ctx, query, userID)
	return err
}

func (x *pgTx) SetDefault(ctx context.Context, id, userID string) (models.Account, error) {
	const query = `UPDATE accounts SET is_default = TRUE, updated_at = now()
	WHERE id = $1 AND user_id = $2 RETURNING ` + accountColumns

	a, err := scanAccount(x.q.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, fmt.Errorf("account %s: %w", id, errs.ErrNotFound)
	}
	return a, err
}

func (x *pgTx) GetTransaction(ctx context.Context, id, userID string) (models.Transaction, error) {
	return getTransaction(ctx, x.q, id, userID, true)
}

func (x *pgTx) FindTransactions(ctx context.Context, userID string, ids []string) ([]models.Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions
	WHERE user_id = $1 AND id = ANY($2) FOR UPDATE`

	rows, err := x.q.QueryContext(ctx, query, userID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (x *pgTx) InsertTransaction(ctx context.Context, t models.Transaction) error {
	const query = `INSERT INTO transactions (` + transactionColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	_, err := x.q.ExecContext(ctx, query, t.ID, t.UserID, t.AccountID, t.Type, t.Amount, t.Date, t.Description,
		t.Category, t.ReceiptURL, t.IsRecurring, nullInterval(t.RecurringInterval), nullTime(t.LastProcessedAt),
		nullTime(t.NextRecurringDate), t.Status, t.CreatedAt, t.UpdatedAt)
	return err
}

func (x *pgTx) UpdateTransaction(ctx context.Context, id, userID string, u models.TransactionUpdate) (models.Transaction, error) {
	const query = `UPDATE transactions SET account_id = $3, type = $4, amount = $5, date = $6, description = $7,
	category = $8, receipt_url = $9, is_recurring = $10, recurring_interval = $11, next_recurring_date = $12, updated_at = $13
	WHERE id = $1 AND user_id = $2 RETURNING ` + transactionColumns

	t, err := scanTransaction(x.q.QueryRowContext(ctx, query, id, userID, u.AccountID, u.Type, u.Amount, u.Date,
		u.Description, u.Category, u.ReceiptURL, u.IsRecurring, nullInterval(u.RecurringInterval),
		nullTime(u.NextRecurringDate), u.UpdatedAt))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, fmt.Errorf("transaction %s: %w", id, errs.ErrNotFound)
	}
	return t, err
}

func (x *pgTx) DeleteTransactions(ctx context.Context, userID string, ids []string) (int, error) {
	const query = `DELETE FROM transactions WHERE user_id = $1 AND id = ANY($2)`

	res, err := x.q.ExecContext(ctx, query, userID, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (x *pgTx) AdvanceSchedule(ctx context.Context, id string, processedAt, next time.Time) error {
	const query = `UPDATE transactions SET last_processed_at = $2, next_recurring_date = $3, updated_at = $2 WHERE id = $1`

	res, err := x.q.ExecContext(ctx, query, id, processedAt, next)
	if err != nil {
		return err
	}
	return expectRow(res, "transaction", id)
}

func (x *pgTx) UpsertBudget(ctx context.Context, b models.Budget) (models.Budget, error) {
	const query = `INSERT INTO budgets (` + budgetColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	ON CONFLICT (user_id) DO UPDATE SET amount = EXCLUDED.amount,
	email = COALESCE(NULLIF(EXCLUDED.email, ''), budgets.email),
	user_name = COALESCE(NULLIF(EXCLUDED.user_name, ''), budgets.user_name),
	updated_at = EXCLUDED.updated_at
	RETURNING ` + budgetColumns

	return scanBudget(x.q.QueryRowContext(ctx, query, b.ID, b.UserID, b.Email, b.UserName, b.Amount,
		nullTime(b.LastAlertSent), b.CreatedAt, b.UpdatedAt))
}

func (x *pgTx) LockBudget(ctx context.Context, id string) (models.Budget, error) {
	const query = `SELECT ` + budgetColumns + ` FROM budgets WHERE id = $1 FOR UPDATE`

	b, err := scanBudget(x.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Budget{}, fmt.Errorf("budget %s: %w", id, errs.ErrNotFound)
	}
	return b, err
}

func (x *pgTx) MarkAlertSent(ctx context.Context, budgetID string, at time.Time) error {
	const query = `UPDATE budgets SET last_alert_sent = $2, updated_at = $2 WHERE id = $1`

	res, err := x.q.ExecContext(ctx, query, budgetID, at)
	if err != nil {
		return err
	}
	return expectRow(res, "budget", budgetID)
}

func expectRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, errs.ErrNotFound)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInterval(i *models.RecurringInterval) sql.NullString {
	if i == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*i), Valid: true}
}

var _ interfaces.LedgerStore = (*PostgresLedgerStore)(nil)
var _ interfaces.LedgerTx = (*pgTx)(nil)
