package recurring

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/time/rate"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
	eventbus "github.com/sheikh-saqib/personal-finance-ledger/internal/events/memory"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/ledger"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/models"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/models/events"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var now = time.Date(2025, time.March, 10, 6, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

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
		Name:    "Main",
		Type:    models.AccountTypeCurrent,
		Balance: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	return &fixture{store: store, ledger: l, acct: acct}
}

// seed stores a recurring transaction as-is, without touching the balance.
func (f *fixture) seed(t *testing.T, id string, interval models.RecurringInterval, lastProcessed, next *time.Time) models.Transaction {
	t.Helper()
	tx := models.Transaction{
		ID:                id,
		UserID:            "u1",
		AccountID:         f.acct.ID,
		Type:              models.TransactionTypeExpense,
		Amount:            decimal.NewFromInt(200),
		Date:              now.AddDate(0, -1, 0),
		Description:       "Rent",
		Category:          "housing",
		IsRecurring:       true,
		RecurringInterval: &interval,
		LastProcessedAt:   lastProcessed,
		NextRecurringDate: next,
		Status:            models.StatusCompleted,
		CreatedAt:         now.AddDate(0, -1, 0),
	}
	err := f.store.RunInTx(context.Background(), func(ctx context.Context, x interfaces.LedgerTx) error {
		return x.InsertTransaction(ctx, tx)
	})
	require.NoError(t, err)
	return tx
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), "u1", f.acct.ID)
	require.NoError(t, err)
	return b
}

func ptr(t time.Time) *time.Time { return &t }

type recordingPublisher struct {
	topics []string
	events []any
	fail   error
}

func (r *recordingPublisher) Publish(ctx context.Context, topic, key string, event any) error {
	if r.fail != nil {
		return r.fail
	}
	r.topics = append(r.topics, topic)
	r.events = append(r.events, event)
	return nil
}

func TestScannerFindsDueTransactions(t *testing.T) {
	f := newFixture(t)
	yesterday := now.AddDate(0, 0, -1)
	tomorrow := now.AddDate(0, 0, 1)

	f.seed(t, "due-yesterday", models.IntervalMonthly, ptr(yesterday.AddDate(0, -1, 0)), &yesterday)
	f.seed(t, "due-tomorrow", models.IntervalMonthly, ptr(tomorrow.AddDate(0, -1, 0)), &tomorrow)
	f.seed(t, "never-processed", models.IntervalWeekly, nil, &tomorrow)
	f.seed(t, "due-now", models.IntervalDaily, ptr(now.AddDate(0, 0, -1)), ptr(now))

	pending := f.seed(t, "pending", models.IntervalDaily, nil, &yesterday)
	err := f.store.RunInTx(context.Background(), func(ctx context.Context, x interfaces.LedgerTx) error {
		_, err := x.DeleteTransactions(ctx, "u1", []string{pending.ID})
		if err != nil {
			return err
		}
		pending.Status = models.StatusPending
		return x.InsertTransaction(ctx, pending)
	})
	require.NoError(t, err)

	pub := &recordingPublisher{}
	scanner := NewScanner(f.store, pub, nil).WithClock(clock)

	n, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var ids []string
	for i, ev := range pub.events {
		assert.Equal(t, events.TopicRecurringDue, pub.topics[i])
		item := ev.(events.RecurringDue)
		assert.Equal(t, "u1", item.UserID)
		ids = append(ids, item.TransactionID)
	}
	assert.ElementsMatch(t, []string{"due-yesterday", "never-processed", "due-now"}, ids)
}

func TestScannerWithNothingDue(t *testing.T) {
	f := newFixture(t)
	pub := &recordingPublisher{}

	n, err := NewScanner(f.store, pub, nil).WithClock(clock).Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, pub.events)
}

func TestScannerContinuesPastPublishFailures(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", models.IntervalDaily, nil, nil)
	f.seed(t, "b", models.IntervalDaily, nil, nil)

	pub := &recordingPublisher{fail: errors.New("broker down")}
	n, err := NewScanner(f.store, pub, nil).WithClock(clock).Scan(context.Background())
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestProcessorMaterializesDueTransaction(t *testing.T) {
	f := newFixture(t)
	yesterday := now.AddDate(0, 0, -1)
	source := f.seed(t, "rent", models.IntervalMonthly, ptr(yesterday.AddDate(0, -1, 0)), &yesterday)

	pub := &recordingPublisher{}
	p := NewProcessor(f.ledger, f.store, pub, nil).WithClock(clock)
	item := events.RecurringDue{TransactionID: source.ID, UserID: "u1"}

	res, err := p.Process(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, Processed, res.Outcome)
	assert.True(t, decimal.NewFromInt(800).Equal(f.balance(t)))

	generated, err := f.store.GetTransaction(context.Background(), res.Generated.ID, "u1")
	require.NoError(t, err)
	assert.False(t, generated.IsRecurring)
	assert.Equal(t, "Rent (Recurring)", generated.Description)
	assert.Equal(t, now, generated.Date)
	assert.Equal(t, models.TransactionTypeExpense, generated.Type)
	assert.True(t, source.Amount.Equal(generated.Amount))
	assert.Equal(t, source.Category, generated.Category)

	updated, err := f.store.GetTransaction(context.Background(), source.ID, "u1")
	require.NoError(t, err)
	require.NotNil(t, updated.LastProcessedAt)
	assert.Equal(t, now, *updated.LastProcessedAt)
	require.NotNil(t, updated.NextRecurringDate)
	assert.Equal(t, time.Date(2025, time.April, 10, 6, 0, 0, 0, time.UTC), *updated.NextRecurringDate)

	require.Len(t, pub.events, 1)
	completed := pub.events[0].(events.TransactionCompleted)
	assert.Equal(t, source.ID, completed.SourceID)
	assert.True(t, decimal.NewFromInt(-200).Equal(completed.Effect))

	// Running again before the next due date is a no-op.
	again, err := p.Process(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, SkippedNotDue, again.Outcome)
	assert.True(t, decimal.NewFromInt(800).Equal(f.balance(t)))

	txs, err := f.store.ListTransactions(context.Background(), f.acct.ID, "u1")
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestProcessorNeverProcessedIsDue(t *testing.T) {
	f := newFixture(t)
	source := f.seed(t, "salary", models.IntervalWeekly, nil, ptr(now.AddDate(0, 0, 5)))

	res, err := NewProcessor(f.ledger, f.store, nil, nil).WithClock(clock).
		Process(context.Background(), events.RecurringDue{TransactionID: source.ID, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, Processed, res.Outcome)
	assert.Equal(t, now.AddDate(0, 0, 7), res.NextRecurringDate)
}

func TestProcessorSkipsDeletedSource(t *testing.T) {
	f := newFixture(t)
	p := NewProcessor(f.ledger, f.store, nil, nil).WithClock(clock)

	res, err := p.Process(context.Background(), events.RecurringDue{TransactionID: "gone", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, SkippedMissing, res.Outcome)
	assert.True(t, decimal.NewFromInt(1000).Equal(f.balance(t)))
}

func TestProcessorSkipsForeignOwner(t *testing.T) {
	f := newFixture(t)
	source := f.seed(t, "rent", models.IntervalMonthly, nil, nil)

	res, err := NewProcessor(f.ledger, f.store, nil, nil).WithClock(clock).
		Process(context.Background(), events.RecurringDue{TransactionID: source.ID, UserID: "someone-else"})
	require.NoError(t, err)
	assert.Equal(t, SkippedMissing, res.Outcome)
}

func TestProcessorFailureLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	source := f.seed(t, "rent", models.IntervalMonthly, nil, nil)

	broken := &advanceFailingStore{LedgerStore: f.store}
	l := ledger.NewLedger(broken, ledger.WithClock(clock))
	p := NewProcessor(l, broken, nil, nil).WithClock(clock)

	_, err := p.Process(context.Background(), events.RecurringDue{TransactionID: source.ID, UserID: "u1"})
	assert.ErrorIs(t, err, errs.ErrTransactionAborted)

	assert.True(t, decimal.NewFromInt(1000).Equal(f.balance(t)))
	txs, err := f.store.ListTransactions(context.Background(), f.acct.ID, "u1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	stored, err := f.store.GetTransaction(context.Background(), source.ID, "u1")
	require.NoError(t, err)
	assert.Nil(t, stored.LastProcessedAt)
}

func TestScanThenDispatchEndToEnd(t *testing.T) {
	f := newFixture(t)
	yesterday := now.AddDate(0, 0, -1)
	f.seed(t, "rent", models.IntervalMonthly, ptr(yesterday.AddDate(0, -1, 0)), &yesterday)
	f.seed(t, "gym", models.IntervalWeekly, nil, nil)

	bus := eventbus.NewBus(16, nil)
	sub := bus.Subscribe(events.TopicRecurringDue)

	scanner := NewScanner(f.store, bus, nil).WithClock(clock)
	processor := NewProcessor(f.ledger, f.store, bus, nil).WithClock(clock)
	dispatcher := NewDispatcher(sub, processor, DispatcherConfig{}, nil)

	n, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// A second overlapping scan emits duplicates; the processor discards them.
	_, err = scanner.Scan(context.Background())
	require.NoError(t, err)

	require.NoError(t, sub.Drain(context.Background(), dispatcher.Handle))
	assert.True(t, decimal.NewFromInt(600).Equal(f.balance(t)))

	due, err := scanner.Due(context.Background())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestScanFuncHandsLargeScansStraightToTheDispatcher(t *testing.T) {
	f := newFixture(t)
	// More items than the in-process bus buffers.
	const due = 1100
	for i := range due {
		f.seed(t, fmt.Sprintf("r%04d", i), models.IntervalMonthly, nil, nil)
	}

	processor := NewProcessor(f.ledger, f.store, nil, nil).WithClock(clock)
	dispatcher := NewDispatcher(nil, processor, DispatcherConfig{Limit: rate.Inf}, nil)
	scanner := NewScanner(f.store, nil, nil).WithClock(clock)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := scanner.ScanFunc(ctx, dispatcher.Dispatch)
	require.NoError(t, err)
	assert.Equal(t, due, n)

	left, err := scanner.Due(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.True(t, decimal.NewFromInt(1000-200*due).Equal(f.balance(t)))
}

type advanceFailingStore struct {
	interfaces.LedgerStore
}

func (s *advanceFailingStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.LedgerTx) error) error {
	return s.LedgerStore.RunInTx(ctx, func(ctx context.Context, tx interfaces.LedgerTx) error {
		return fn(ctx, advanceFailingTx{tx})
	})
}

type advanceFailingTx struct {
	interfaces.LedgerTx
}

func (advanceFailingTx) AdvanceSchedule(ctx context.Context, id string, processedAt, next time.Time) error {
	return errors.New("connection reset")
}
