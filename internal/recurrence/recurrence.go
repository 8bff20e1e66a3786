// Package recurrence computes the next occurrence of a recurring transaction.
package recurrence

import (
	"fmt"
	"time"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/models"
)

// NextOccurrence returns the date one interval after date. Monthly and yearly
// steps keep the day of month, clamped to the last day of a shorter target
// month (Jan 31 -> Feb 28, Feb 29 -> Feb 28 on non-leap years). The time of
// day and location are preserved.
func NextOccurrence(date time.Time, interval models.RecurringInterval) (time.Time, error) {
	switch interval {
	case models.IntervalDaily:
		return date.AddDate(0, 0, 1), nil
	case models.IntervalWeekly:
		return date.AddDate(0, 0, 7), nil
	case models.IntervalMonthly:
		return addMonths(date, 1), nil
	case models.IntervalYearly:
		return addMonths(date, 12), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", errs.ErrInvalidInterval, interval)
	}
}

// ValidInterval reports whether NextOccurrence accepts interval.
func ValidInterval(interval models.RecurringInterval) bool {
	_, err := NextOccurrence(time.Time{}, interval)
	return err == nil
}

func addMonths(date time.Time, months int) time.Time {
	year, month, day := date.Date()
	hour, minute, sec := date.Clock()

	// time.Date normalizes month overflow, so day 1 never spills.
	first := time.Date(year, month+time.Month(months), 1, hour, minute, sec, date.Nanosecond(), date.Location())
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, minute, sec, date.Nanosecond(), date.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
