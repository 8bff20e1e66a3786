package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Budget is a user's monthly spending target, evaluated against the
// expenses of their default account.
type Budget struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Email         string          `json:"email"`
	UserName      string          `json:"user_name"`
	Amount        decimal.Decimal `json:"amount"`
	LastAlertSent *time.Time      `json:"last_alert_sent,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// AlertedInMonthOf reports whether an alert was already sent in the same
// calendar month as now.
func (b Budget) AlertedInMonthOf(now time.Time) bool {
	if b.LastAlertSent == nil {
		return false
	}
	last := b.LastAlertSent.In(now.Location())
	return last.Year() == now.Year() && last.Month() == now.Month()
}
