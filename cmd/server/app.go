package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/budget"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/classifier"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/config"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/events/kafka"
	eventbus "github.com/sheikh-saqib/personal-finance-ledger/internal/events/memory"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/ledger"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/logging"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/models/events"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/notify"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/ratelimit"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/recurring"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/storage/postgres"
)

// app holds the wired services of one process.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	store      interfaces.LedgerStore
	pg         *postgres.PostgresLedgerStore
	ledger     *ledger.Ledger
	publisher  interfaces.EventPublisher
	consumer   interfaces.EventConsumer
	bus        *eventbus.Bus
	work       *eventbus.Subscription
	scanner    *recurring.Scanner
	processor  *recurring.Processor
	dispatcher *recurring.Dispatcher
	budgets    *budget.Evaluator
	limiter    *ratelimit.Limiter
	classifier interfaces.ReceiptClassifier

	closers []io.Closer
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	if err := a.openStore(ctx); err != nil {
		return err
	}
	a.ledger = ledger.NewLedger(a.store, ledger.WithLogger(a.logger.Named("ledger")))

	a.openQueue()

	a.scanner = recurring.NewScanner(a.store, a.publisher, a.logger.Named("scanner"))
	a.processor = recurring.NewProcessor(a.ledger, a.store, a.publisher, a.logger.Named("processor"))
	a.dispatcher = recurring.NewDispatcher(a.consumer, a.processor, recurring.DispatcherConfig{
		Limit:       rate.Limit(float64(a.cfg.Dispatch.PerMinute) / 60),
		Burst:       a.cfg.Dispatch.PerMinute,
		MaxAttempts: a.cfg.Dispatch.MaxAttempts,
		RetryDelay:  a.cfg.Dispatch.RetryDelay,
	}, a.logger.Named("dispatcher"))

	notifier, err := a.notifier()
	if err != nil {
		return err
	}
	a.budgets = budget.NewEvaluator(a.store, notifier, a.logger.Named("budgets"))

	if err := a.openLimiter(); err != nil {
		return err
	}

	if key := a.cfg.Classifier.GeminiAPIKey; key != "" {
		c, err := classifier.NewGemini(ctx, key, a.cfg.Classifier.Model, a.cfg.Currency)
		if err != nil {
			return err
		}
		a.classifier = c
	}
	return nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.Postgres.DSN == "" {
		a.logger.Warn("no database configured, ledger is kept in memory")
		a.store = memory.NewMemoryLedgerStore()
		return nil
	}
	db, err := postgres.Open(ctx, a.cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, db)
	a.pg = postgres.NewPostgresLedgerStore(db)
	a.store = a.pg
	return nil
}

func (a *app) openQueue() {
	if len(a.cfg.Kafka.Brokers) == 0 {
		a.bus = eventbus.NewBus(1024, a.logger.Named("bus"))
		a.work = a.bus.Subscribe(events.TopicRecurringDue)
		a.publisher = a.bus
		a.consumer = a.work
		return
	}
	pub := kafka.NewPublisher(a.cfg.Kafka.Brokers)
	con := kafka.NewConsumer(a.cfg.Kafka.Brokers, a.cfg.Kafka.GroupID, events.TopicRecurringDue, a.logger.Named("consumer"))
	a.closers = append(a.closers, pub, con)
	a.publisher = pub
	a.consumer = con
}

func (a *app) notifier() (interfaces.Notifier, error) {
	renderer, err := notify.NewRenderer(a.cfg.Currency)
	if err != nil {
		return nil, err
	}

	var sinks notify.Multi
	if s := a.cfg.SMTP; s.Host != "" {
		sinks = append(sinks, notify.NewEmailSink(notify.SMTPConfig{
			Host:     s.Host,
			Port:     s.Port,
			Username: s.Username,
			Password: s.Password,
			From:     s.From,
			Timeout:  s.Timeout,
		}, renderer))
	}
	if d := a.cfg.Discord; d.BotToken != "" {
		sink, err := notify.NewDiscordSink(d.BotToken, d.ChannelID, renderer)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	if len(sinks) == 0 {
		a.logger.Warn("no notification channel configured, alerts are only logged")
		return notify.NewLogSink(a.logger.Named("alerts")), nil
	}
	return sinks, nil
}

func (a *app) openLimiter() error {
	var store interfaces.CounterStore = ratelimit.NewMemoryStore()
	if path := a.cfg.RateLimit.DBPath; path != "" {
		g, err := ratelimit.OpenSQLite(path)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, g)
		store = g
	}
	a.limiter = ratelimit.New(store, a.cfg.RateLimit.Limit, a.cfg.RateLimit.Window)
	return nil
}

// scanOnce runs one scan pass. With the in-process bus nothing else would
// consume the work items, so they go straight to the dispatcher rather than
// through a buffer that a large scan could fill.
func (a *app) scanOnce(ctx context.Context) error {
	var (
		n   int
		err error
	)
	if a.work != nil {
		n, err = a.scanner.ScanFunc(ctx, a.dispatcher.Dispatch)
	} else {
		n, err = a.scanner.Scan(ctx)
	}
	if err != nil {
		a.logger.Error("scan finished with failures", zap.Int("handled", n), zap.Error(err))
	}
	return err
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", zap.String("resource", fmt.Sprintf("%T", a.closers[i])), zap.Error(err))
		}
	}
	a.logger.Sync()
}
