package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the direction of money for a transaction.
type TransactionType string

const (
	TransactionTypeExpense TransactionType = "EXPENSE"
	TransactionTypeIncome  TransactionType = "INCOME"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	return t == TransactionTypeExpense || t == TransactionTypeIncome
}

// RecurringInterval is the schedule step of a recurring transaction.
type RecurringInterval string

const (
	IntervalDaily   RecurringInterval = "DAILY"
	IntervalWeekly  RecurringInterval = "WEEKLY"
	IntervalMonthly RecurringInterval = "MONTHLY"
	IntervalYearly  RecurringInterval = "YEARLY"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

// RecurrenceSuffix is appended to the description of every transaction the
// recurring processor generates.
const RecurrenceSuffix = " (Recurring)"

// Transaction is a single income or expense booked against an account.
type Transaction struct {
	ID                string             `json:"id"`
	UserID            string             `json:"user_id"`
	AccountID         string             `json:"account_id"`
	Type              TransactionType    `json:"type"`
	Amount            decimal.Decimal    `json:"amount"`
	Date              time.Time          `json:"date"`
	Description       string             `json:"description"`
	Category          string             `json:"category"`
	ReceiptURL        string             `json:"receipt_url,omitempty"`
	IsRecurring       bool               `json:"is_recurring"`
	RecurringInterval *RecurringInterval `json:"recurring_interval,omitempty"`
	LastProcessedAt   *time.Time         `json:"last_processed_at,omitempty"`
	NextRecurringDate *time.Time         `json:"next_recurring_date,omitempty"`
	Status            TransactionStatus  `json:"status"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// LedgerEffect is the signed amount t contributes to its account balance:
// the amount for income, its negation for expenses.
func (t Transaction) LedgerEffect() decimal.Decimal {
	return SignedAmount(t.Type, t.Amount)
}

// IsDue reports whether a recurring transaction has to be materialized at now.
func (t Transaction) IsDue(now time.Time) bool {
	if !t.IsRecurring {
		return false
	}
	if t.LastProcessedAt == nil {
		return true
	}
	return t.NextRecurringDate != nil && !t.NextRecurringDate.After(now)
}

// SignedAmount applies the ledger sign rule to amount.
func SignedAmount(typ TransactionType, amount decimal.Decimal) decimal.Decimal {
	if typ == TransactionTypeExpense {
		return amount.Neg()
	}
	return amount
}

// TransactionInput is the user-submitted shape of a transaction, used for
// both creation and full edits.
type TransactionInput struct {
	AccountID         string             `json:"account_id"`
	Type              TransactionType    `json:"type"`
	Amount            decimal.Decimal    `json:"amount"`
	Date              time.Time          `json:"date"`
	Description       string             `json:"description"`
	Category          string             `json:"category"`
	ReceiptURL        string             `json:"receipt_url,omitempty"`
	IsRecurring       bool               `json:"is_recurring"`
	RecurringInterval *RecurringInterval `json:"recurring_interval,omitempty"`
}

// TransactionUpdate enumerates the fields an edit may change on a stored
// transaction. Scheduling state (LastProcessedAt) is not part of it.
type TransactionUpdate struct {
	AccountID         string
	Type              TransactionType
	Amount            decimal.Decimal
	Date              time.Time
	Description       string
	Category          string
	ReceiptURL        string
	IsRecurring       bool
	RecurringInterval *RecurringInterval
	NextRecurringDate *time.Time
	UpdatedAt         time.Time
}

// Apply returns a copy of t with u's fields written over it.
func (u TransactionUpdate) Apply(t Transaction) Transaction {
	t.AccountID = u.AccountID
	t.Type = u.Type
	t.Amount = u.Amount
	t.Date = u.Date
	t.Description = u.Description
	t.Category = u.Category
	t.ReceiptURL = u.ReceiptURL
	t.IsRecurring = u.IsRecurring
	t.RecurringInterval = u.RecurringInterval
	t.NextRecurringDate = u.NextRecurringDate
	t.UpdatedAt = u.UpdatedAt
	return t
}
