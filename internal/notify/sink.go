package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
)

// LogSink writes notifications to the log. It is the fallback when no
// delivery channel is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(ctx context.Context, n interfaces.Notification) error {
	s.logger.Info("notification",
		zap.String("to", n.To),
		zap.String("subject", n.Subject),
		zap.String("template", n.TemplateType),
		zap.Any("data", n.TemplateData))
	return nil
}

// Multi delivers to every sink and fails if any of them failed, so callers
// retry the notification as a whole.
type Multi []interfaces.Notifier

func (m Multi) Notify(ctx context.Context, n interfaces.Notification) error {
	var failures []error
	for _, sink := range m {
		if err := sink.Notify(ctx, n); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

var (
	_ interfaces.Notifier = (*LogSink)(nil)
	_ interfaces.Notifier = Multi(nil)
)
