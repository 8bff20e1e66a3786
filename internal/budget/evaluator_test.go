package budget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/ledger"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/models"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/storage/memory"
)

var now = time.Date(2025, time.March, 20, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []interfaces.Notification
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, msg interfaces.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

type fixture struct {
	store  *memory.MemoryLedgerStore
	ledger *ledger.Ledger
	acct   models.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewMemoryLedgerStore()
	l := ledger.NewLedger(store, ledger.WithClock(clock))
	acct, err := l.CreateAccount(context.Background(), "u1", models.AccountInput{
		Name:    "Everyday",
		Type:    models.AccountTypeCurrent,
		Balance: decimal.NewFromInt(5000),
	})
	require.NoError(t, err)
	return &fixture{store: store, ledger: l, acct: acct}
}

func (f *fixture) spend(t *testing.T, typ models.TransactionType, amount int64, date time.Time) {
	t.Helper()
	_, err := f.ledger.CreateTransaction(context.Background(), "u1", models.TransactionInput{
		AccountID:   f.acct.ID,
		Type:        typ,
		Amount:      decimal.NewFromInt(amount),
		Date:        date,
		Description: "groceries",
		Category:    "food",
	})
	require.NoError(t, err)
}

func (f *fixture) budget(t *testing.T, amount int64) models.Budget {
	t.Helper()
	b, err := f.ledger.SetBudget(context.Background(), "u1", "ada@example.com", "Ada", decimal.NewFromInt(amount))
	require.NoError(t, err)
	return b
}

func TestMonthBounds(t *testing.T) {
	from, to := MonthBounds(time.Date(2024, time.February, 15, 9, 30, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, time.February, 29, 23, 59, 59, 999_000_000, time.UTC), to)
}

func TestRunSendsOneAlertPerMonth(t *testing.T) {
	f := newFixture(t)
	f.spend(t, models.TransactionTypeExpense, 850, now.AddDate(0, 0, -5))
	b := f.budget(t, 1000)

	notifier := &recordingNotifier{}
	e := NewEvaluator(f.store, notifier, nil).WithClock(clock)

	sum, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, Alerted: 1}, sum)

	require.Len(t, notifier.sent, 1)
	msg := notifier.sent[0]
	assert.Equal(t, "ada@example.com", msg.To)
	assert.Equal(t, "Budget Alert Everyday", msg.Subject)
	assert.Equal(t, TemplateBudgetAlert, msg.TemplateType)
	assert.True(t, decimal.NewFromInt(85).Equal(msg.TemplateData[KeyPercentageUsed].(decimal.Decimal)))
	assert.True(t, decimal.NewFromInt(850).Equal(msg.TemplateData[KeyTotalExpenses].(decimal.Decimal)))
	assert.True(t, decimal.NewFromInt(1000).Equal(msg.TemplateData[KeyBudgetAmount].(decimal.Decimal)))
	assert.Equal(t, "Everyday", msg.TemplateData[KeyAccountName])

	stored, err := f.store.GetBudget(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, stored.LastAlertSent)
	assert.Equal(t, now, *stored.LastAlertSent)
	assert.Equal(t, b.ID, stored.ID)

	sum, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, Skipped: 1}, sum)
	assert.Len(t, notifier.sent, 1)
}

func TestRunAlertsAgainInANewMonth(t *testing.T) {
	f := newFixture(t)
	f.spend(t, models.TransactionTypeExpense, 100, now)
	b := f.budget(t, 1000)

	last := now.AddDate(0, -1, 0)
	require.NoError(t, f.store.RunInTx(context.Background(), func(ctx context.Context, tx interfaces.LedgerTx) error {
		return tx.MarkAlertSent(ctx, b.ID, last)
	}))

	notifier := &recordingNotifier{}
	_, err := NewEvaluator(f.store, notifier, nil).WithClock(clock).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, notifier.sent, 1)
}

func TestFailedDispatchDoesNotRecordAlert(t *testing.T) {
	f := newFixture(t)
	f.spend(t, models.TransactionTypeExpense, 850, now)
	f.budget(t, 1000)

	notifier := &recordingNotifier{err: errors.New("smtp: 421 service not available")}
	e := NewEvaluator(f.store, notifier, nil).WithClock(clock)

	sum, err := e.Run(context.Background())
	require.ErrorIs(t, err, errs.ErrExternalDispatchFailed)
	assert.Equal(t, 1, sum.Failed)

	stored, err := f.store.GetBudget(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, stored.LastAlertSent)

	notifier.err = nil
	sum, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Alerted)
}

type slowNotifier struct {
	recordingNotifier
	delay time.Duration
}

func (n *slowNotifier) Notify(ctx context.Context, msg interfaces.Notification) error {
	time.Sleep(n.delay)
	return n.recordingNotifier.Notify(ctx, msg)
}

func TestOverlappingRunsAlertOnce(t *testing.T) {
	f := newFixture(t)
	f.spend(t, models.TransactionTypeExpense, 850, now)
	f.budget(t, 1000)

	notifier := &slowNotifier{delay: 100 * time.Millisecond}
	e := NewEvaluator(f.store, notifier, nil).WithClock(clock)

	var (
		wg      sync.WaitGroup
		sums    [2]Summary
		runErrs [2]error
	)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sums[i], runErrs[i] = e.Run(context.Background())
		}()
	}
	wg.Wait()

	require.NoError(t, runErrs[0])
	require.NoError(t, runErrs[1])
	assert.Len(t, notifier.sent, 1)
	assert.Equal(t, 1, sums[0].Alerted+sums[1].Alerted)
	assert.Equal(t, 1, sums[0].Skipped+sums[1].Skipped)
}

func TestOnlyThisMonthsExpensesCount(t *testing.T) {
	f := newFixture(t)
	f.spend(t, models.TransactionTypeExpense, 400, now.AddDate(0, -1, 0))
	f.spend(t, models.TransactionTypeIncome, 900, now)
	f.budget(t, 1000)

	notifier := &recordingNotifier{}
	e := NewEvaluator(f.store, notifier, nil).WithClock(clock)

	b, err := f.store.GetBudget(context.Background(), "u1")
	require.NoError(t, err)
	outcome, err := e.Check(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, SkippedUnused, outcome)
	assert.Empty(t, notifier.sent)
}

func TestBudgetWithoutDefaultAccountIsSkipped(t *testing.T) {
	store := memory.NewMemoryLedgerStore()
	l := ledger.NewLedger(store, ledger.WithClock(clock))
	_, err := l.SetBudget(context.Background(), "u2", "bo@example.com", "", decimal.NewFromInt(500))
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	sum, err := NewEvaluator(store, notifier, nil).WithClock(clock).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, Skipped: 1}, sum)
	assert.Empty(t, notifier.sent)
}

func TestOneFailingBudgetDoesNotStopTheRun(t *testing.T) {
	f := newFixture(t)
	f.spend(t, models.TransactionTypeExpense, 300, now)
	f.budget(t, 1000)

	acct2, err := f.ledger.CreateAccount(context.Background(), "u2", models.AccountInput{
		Name: "Joint", Type: models.AccountTypeSavings, Balance: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	_, err = f.ledger.CreateTransaction(context.Background(), "u2", models.TransactionInput{
		AccountID: acct2.ID, Type: models.TransactionTypeExpense, Amount: decimal.NewFromInt(50),
		Date: now, Description: "fuel", Category: "transport",
	})
	require.NoError(t, err)
	_, err = f.ledger.SetBudget(context.Background(), "u2", "bo@example.com", "Bo", decimal.NewFromInt(100))
	require.NoError(t, err)

	notifier := &selectiveNotifier{fail: "ada@example.com"}
	sum, err := NewEvaluator(f.store, notifier, nil).WithClock(clock).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, Summary{Checked: 2, Alerted: 1, Failed: 1}, sum)
	assert.Equal(t, []string{"bo@example.com"}, notifier.sent)
}

type selectiveNotifier struct {
	fail string
	sent []string
}

func (n *selectiveNotifier) Notify(ctx context.Context, msg interfaces.Notification) error {
	if msg.To == n.fail {
		return errs.ErrExternalDispatchFailed
	}
	n.sent = append(n.sent, msg.To)
	return nil
}
