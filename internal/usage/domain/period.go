package domain

import (
	"time"

	catalogdomain "github.com/smallbiznis/guildgate/internal/catalog/domain"
)

// PeriodStart returns the UTC calendar boundary that opens the period containing t.
func PeriodStart(period catalogdomain.ResetPeriod, t time.Time) (time.Time, error) {
	t = t.UTC()
	switch period {
	case catalogdomain.ResetDaily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	case catalogdomain.ResetMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	case catalogdomain.ResetYearly:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, ErrInvalidPeriod
	}
}

// PeriodEnd returns the boundary that opens the next period.
func PeriodEnd(period catalogdomain.ResetPeriod, start time.Time) (time.Time, error) {
	start, err := PeriodStart(period, start)
	if err != nil {
		return time.Time{}, err
	}
	switch period {
	case catalogdomain.ResetDaily:
		return start.AddDate(0, 0, 1), nil
	case catalogdomain.ResetMonthly:
		return start.AddDate(0, 1, 0), nil
	default:
		return start.AddDate(1, 0, 0), nil
	}
}

// InferPeriodEnd picks the end of a flushed counter's period. The key carries only the
// start date, so the period comes from the guild's current tier when it still aligns
// with that date, else the period is taken to close at the next month boundary.
func InferPeriodEnd(start time.Time, period *catalogdomain.ResetPeriod) time.Time {
	start = start.UTC()
	if period != nil {
		if aligned, err := PeriodStart(*period, start); err == nil && aligned.Equal(start) {
			end, _ := PeriodEnd(*period, start)
			return end
		}
	}
	return time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
