package recurring

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/models/events"
)

// ItemProcessor handles one work item.
type ItemProcessor interface {
	Process(ctx context.Context, item events.RecurringDue) (Result, error)
}

// DispatcherConfig tunes the per-user throttle and the retry policy.
type DispatcherConfig struct {
	// Limit and Burst bound work items per user; the default is 10 per minute.
	Limit rate.Limit
	Burst int
	// MaxAttempts bounds retries of a failing item within one delivery.
	MaxAttempts int
	RetryDelay  time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Limit <= 0 {
		c.Limit = rate.Every(time.Minute / 10)
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// Dispatcher feeds work items from a consumer to the processor. Items of a
// user over the throttle wait for a token instead of being dropped.
type Dispatcher struct {
	consumer  interfaces.EventConsumer
	processor ItemProcessor
	cfg       DispatcherConfig
	logger    *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewDispatcher(consumer interfaces.EventConsumer, processor ItemProcessor, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		consumer:  consumer,
		processor: processor,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Run consumes until ctx ends or the consumer stops. Items are queued on
// a lane per user, so a user waiting for a token does not hold up anyone
// else. An item still queued when ctx ends is dropped; its source stays
// due and the next scan emits it again.
func (d *Dispatcher) Run(ctx context.Context) error {
	l := newLanes(ctx, d)
	defer l.close()
	return d.consumer.Consume(ctx, l.enqueue)
}

func (d *Dispatcher) limiter(userID string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.limiters[userID]
	if !ok {
		l = rate.NewLimiter(d.cfg.Limit, d.cfg.Burst)
		d.limiters[userID] = l
	}
	return l
}

// Handle decodes one message and dispatches it inline. A message that
// cannot be decoded is dropped.
func (d *Dispatcher) Handle(ctx context.Context, msg interfaces.Message) error {
	item, ok := d.decode(msg)
	if !ok {
		return nil
	}
	return d.Dispatch(ctx, item)
}

func (d *Dispatcher) decode(msg interfaces.Message) (events.RecurringDue, bool) {
	var item events.RecurringDue
	if err := json.Unmarshal(msg.Value, &item); err != nil {
		d.logger.Error("dropping undecodable work item", zap.String("key", msg.Key), zap.Error(err))
		return events.RecurringDue{}, false
	}
	return item, true
}

// Dispatch waits for the user's throttle and processes one item. An item
// that still fails after MaxAttempts is reported; it stays due, so the next
// scan emits it again.
func (d *Dispatcher) Dispatch(ctx context.Context, item events.RecurringDue) error {
	log := d.logger.With(zap.String("transaction_id", item.TransactionID), zap.String("user_id", item.UserID))

	if err := d.limiter(item.UserID).Wait(ctx); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		res, err := d.processor.Process(ctx, item)
		if err == nil {
			log.Debug("work item handled", zap.Stringer("outcome", res.Outcome), zap.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		if errors.Is(err, errs.ErrInvalidInterval) || errors.Is(err, errs.ErrInvalidInput) {
			break
		}

		log.Warn("work item failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == d.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.cfg.RetryDelay * time.Duration(attempt)):
		}
	}

	log.Error("giving up on work item until next scan", zap.Error(lastErr))
	return lastErr
}

// laneBuffer is how many items one user may have queued before the consumer
// waits on that user.
const laneBuffer = 64

// lanes fans work items out to one goroutine per user.
type lanes struct {
	ctx context.Context
	d   *Dispatcher

	mu     sync.Mutex
	byUser map[string]chan events.RecurringDue
	wg     sync.WaitGroup
}

func newLanes(ctx context.Context, d *Dispatcher) *lanes {
	return &lanes{ctx: ctx, d: d, byUser: make(map[string]chan events.RecurringDue)}
}

func (l *lanes) enqueue(ctx context.Context, msg interfaces.Message) error {
	item, ok := l.d.decode(msg)
	if !ok {
		return nil
	}
	select {
	case l.lane(item.UserID) <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *lanes) lane(userID string) chan events.RecurringDue {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.byUser[userID]
	if !ok {
		ch = make(chan events.RecurringDue, laneBuffer)
		l.byUser[userID] = ch
		l.wg.Add(1)
		go l.work(ch)
	}
	return ch
}

func (l *lanes) work(ch chan events.RecurringDue) {
	defer l.wg.Done()
	for item := range ch {
		// Processing failures are logged by Dispatch.
		if err := l.d.Dispatch(l.ctx, item); err != nil && l.ctx.Err() != nil {
			l.d.logger.Debug("work item left for the next scan",
				zap.String("transaction_id", item.TransactionID),
				zap.String("user_id", item.UserID))
		}
	}
}

// close stops accepting items and waits for the lanes to finish what they
// hold. Must be called after the consumer has returned.
func (l *lanes) close() {
	l.mu.Lock()
	for _, ch := range l.byUser {
		close(ch)
	}
	l.mu.Unlock()
	l.wg.Wait()
}
