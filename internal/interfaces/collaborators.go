package interfaces

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Notification is what the budget evaluator hands to a Notifier.
type Notification struct {
	To           string
	Subject      string
	TemplateType string
	TemplateData map[string]any
}

// Notifier delivers a notification. A returned error means it was not sent.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ReceiptGuess is a best-effort reading of a receipt image. The zero value
// means nothing was recognized.
type ReceiptGuess struct {
	Amount       decimal.Decimal `json:"amount"`
	Date         time.Time       `json:"date"`
	Description  string          `json:"description"`
	MerchantName string          `json:"merchant_name"`
	Category     string          `json:"category"`
}

// Empty reports whether the guess carries no information.
func (g ReceiptGuess) Empty() bool {
	return g.Amount.IsZero() && g.Date.IsZero() && g.Description == "" && g.MerchantName == "" && g.Category == ""
}

// ReceiptClassifier reads a receipt image.
type ReceiptClassifier interface {
	Classify(ctx context.Context, image []byte, mimeType string) (ReceiptGuess, error)
}

// Scheduler triggers named jobs on cron expressions.
type Scheduler interface {
	Register(spec, name string, job func(ctx context.Context) error) error
}

// CounterStore keeps the per-key windows of the rate limiter. Take must be
// atomic: check and increment happen as one step, and a denial leaves the
// counter untouched.
type CounterStore interface {
	Take(ctx context.Context, key string, requested, limit int, window time.Duration, now time.Time) (Window, error)
}

// Window is the outcome of a CounterStore.Take.
type Window struct {
	Allowed bool
	Count   int
	ResetAt time.Time
}
