package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Topic names used on the event bus.
const (
	TopicRecurringDue         = "recurring_transaction_due"
	TopicTransactionCompleted = "transaction_completed"
)

// RecurringDue is the work item the scanner emits for each due recurring
// transaction.
type RecurringDue struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	ScannedAt     time.Time `json:"scanned_at"`
}

// TransactionCompleted is published after the processor commits a
// recurrence-generated transaction.
type TransactionCompleted struct {
	TransactionID     string          `json:"transaction_id"`
	SourceID          string          `json:"source_id"`
	UserID            string          `json:"user_id"`
	AccountID         string          `json:"account_id"`
	Amount            decimal.Decimal `json:"amount"`
	Effect            decimal.Decimal `json:"effect"`
	NextRecurringDate time.Time       `json:"next_recurring_date"`
	OccurredAt        time.Time       `json:"occurred_at"`
}
