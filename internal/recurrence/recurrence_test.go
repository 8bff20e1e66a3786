package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/models"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

func TestNextOccurrence(t *testing.T) {
	cases := []struct {
		name     string
		from     time.Time
		interval models.RecurringInterval
		want     time.Time
	}{
		{"daily", day(2025, time.March, 14), models.IntervalDaily, day(2025, time.March, 15)},
		{"daily across year end", day(2025, time.December, 31), models.IntervalDaily, day(2026, time.January, 1)},
		{"weekly", day(2025, time.March, 14), models.IntervalWeekly, day(2025, time.March, 21)},
		{"weekly across month", day(2025, time.January, 29), models.IntervalWeekly, day(2025, time.February, 5)},
		{"monthly same day", day(2025, time.March, 14), models.IntervalMonthly, day(2025, time.April, 14)},
		{"monthly jan 31 non-leap", day(2025, time.January, 31), models.IntervalMonthly, day(2025, time.February, 28)},
		{"monthly jan 31 leap", day(2024, time.January, 31), models.IntervalMonthly, day(2024, time.February, 29)},
		{"monthly march 31 to april 30", day(2024, time.March, 31), models.IntervalMonthly, day(2024, time.April, 30)},
		{"monthly december", day(2025, time.December, 15), models.IntervalMonthly, day(2026, time.January, 15)},
		{"yearly", day(2025, time.June, 1), models.IntervalYearly, day(2026, time.June, 1)},
		{"yearly feb 29", day(2024, time.February, 29), models.IntervalYearly, day(2025, time.February, 28)},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := NextOccurrence(c.from, c.interval)
			require.NoError(t, err)
			assert.True(t, c.want.Equal(got), "want %s got %s", c.want, got)
		})
	}
}

func TestNextOccurrenceIsDeterministic(t *testing.T) {
	from := day(2025, time.January, 31)
	first, err := NextOccurrence(from, models.IntervalMonthly)
	require.NoError(t, err)
	second, err := NextOccurrence(from, models.IntervalMonthly)
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
}

func TestNextOccurrenceInvalidInterval(t *testing.T) {
	for _, interval := range []models.RecurringInterval{"", "HOURLY", "monthly"} {
		_, err := NextOccurrence(day(2025, time.January, 1), interval)
		assert.ErrorIs(t, err, errs.ErrInvalidInterval, "interval %q", interval)
		assert.False(t, ValidInterval(interval))
	}
	assert.True(t, ValidInterval(models.IntervalYearly))
}
