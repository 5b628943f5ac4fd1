package domain

import (
	"time"

	catalogdomain "github.com/cursolabs/cursopay/internal/catalog/domain"
)

// AddInterval advances start by count intervals using calendar arithmetic.
// Month and year addition clamp to the last day of the target month rather
// than rolling over: 2024-01-31 + 1 month = 2024-02-29, 2025-01-31 + 1 month
// = 2025-02-28. time.AddDate would normalize Jan 31 + 1 month to Mar 2; that
// would silently shorten February renewals, so the clamp is explicit.
func AddInterval(start time.Time, interval catalogdomain.IntervalType, count int) time.Time {
	if count <= 0 {
		count = 1
	}
	switch interval {
	case catalogdomain.IntervalDay:
		return start.AddDate(0, 0, count)
	case catalogdomain.IntervalWeek:
		return start.AddDate(0, 0, 7*count)
	case catalogdomain.IntervalMonth:
		return addMonthsClamped(start, count)
	case catalogdomain.IntervalYear:
		return addMonthsClamped(start, 12*count)
	default:
		return start
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	// Normalize the target month first, then clamp the day.
	totalMonths := int(month) - 1 + months
	targetYear := year + totalMonths/12
	targetMonth := time.Month(totalMonths%12 + 1)
	if totalMonths < 0 && totalMonths%12 != 0 {
		targetYear--
		targetMonth += 12
	}

	if last := lastDayOfMonth(targetYear, targetMonth); day > last {
		day = last
	}

	hour, min, sec := t.Clock()
	return time.Date(targetYear, targetMonth, day, hour, min, sec, t.Nanosecond(), t.Location())
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
