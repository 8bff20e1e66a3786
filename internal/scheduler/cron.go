// Package scheduler runs named jobs on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
)

// Cron implements interfaces.Scheduler. A job still running when its next
// tick comes is skipped for that tick; jobs must tolerate overlapping with
// other jobs, not with themselves.
type Cron struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	jobs   map[string]cron.EntryID
}

// New returns a scheduler whose job runs are each bounded by timeout (zero
// means unbounded).
func New(logger *zap.Logger, timeout time.Duration) *Cron {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cron{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logger,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]cron.EntryID),
	}
}

func (c *Cron) Register(spec, name string, job func(ctx context.Context) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.jobs[name]; dup {
		return errs.Invalid("job %q already registered", name)
	}
	id, err := c.cron.AddFunc(spec, func() { c.run(name, job) })
	if err != nil {
		return errs.Invalid("job %q schedule %q: %v", name, spec, err)
	}
	c.jobs[name] = id
	c.logger.Info("job registered", zap.String("job", name), zap.String("schedule", spec))
	return nil
}

// RunNow runs a registered job once, outside its schedule.
func (c *Cron) RunNow(name string) error {
	c.mu.Lock()
	id, ok := c.jobs[name]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q: %w", name, errs.ErrNotFound)
	}
	c.cron.Entry(id).WrappedJob.Run()
	return nil
}

// Next returns when a registered job fires next. It is zero until Start.
func (c *Cron) Next(name string) (time.Time, error) {
	c.mu.Lock()
	id, ok := c.jobs[name]
	c.mu.Unlock()
	if !ok {
		return time.Time{}, fmt.Errorf("job %q: %w", name, errs.ErrNotFound)
	}
	return c.cron.Entry(id).Next, nil
}

func (c *Cron) run(name string, job func(ctx context.Context) error) {
	ctx := c.ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	log := c.logger.With(zap.String("job", name))
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", zap.Any("panic", r))
		}
	}()

	if err := job(ctx); err != nil {
		log.Error("job failed", zap.Duration("took", time.Since(start)), zap.Error(err))
		return
	}
	log.Info("job finished", zap.Duration("took", time.Since(start)))
}

func (c *Cron) Start() {
	c.cron.Start()
}

// Stop stops scheduling, cancels running jobs and waits for them to return
// or for ctx to end.
func (c *Cron) Stop(ctx context.Context) error {
	done := c.cron.Stop()
	c.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ interfaces.Scheduler = (*Cron)(nil)
