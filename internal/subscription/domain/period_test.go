package domain

import (
	"testing"
	"time"

	catalogdomain "github.com/cursolabs/cursopay/internal/catalog/domain"
	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAddIntervalMonthClampsToShortMonth(t *testing.T) {
	// Jan 31 + 1 month lands on the last day of February, not March 2.
	got := AddInterval(date(2024, time.January, 31), catalogdomain.IntervalMonth, 1)
	assert.Equal(t, date(2024, time.February, 29), got)

	got = AddInterval(date(2025, time.January, 31), catalogdomain.IntervalMonth, 1)
	assert.Equal(t, date(2025, time.February, 28), got)
}

func TestAddIntervalMonthKeepsDayWhenItFits(t *testing.T) {
	got := AddInterval(date(2024, time.March, 15), catalogdomain.IntervalMonth, 1)
	assert.Equal(t, date(2024, time.April, 15), got)

	got = AddInterval(date(2024, time.October, 31), catalogdomain.IntervalMonth, 2)
	assert.Equal(t, date(2024, time.December, 31), got)
}

func TestAddIntervalMonthCrossesYearBoundary(t *testing.T) {
	got := AddInterval(date(2024, time.November, 30), catalogdomain.IntervalMonth, 3)
	assert.Equal(t, date(2025, time.February, 28), got)
}

func TestAddIntervalYearClampsLeapDay(t *testing.T) {
	got := AddInterval(date(2024, time.February, 29), catalogdomain.IntervalYear, 1)
	assert.Equal(t, date(2025, time.February, 28), got)
}

func TestAddIntervalDayAndWeek(t *testing.T) {
	got := AddInterval(date(2024, time.December, 30), catalogdomain.IntervalDay, 3)
	assert.Equal(t, date(2025, time.January, 2), got)

	got = AddInterval(date(2024, time.June, 1), catalogdomain.IntervalWeek, 2)
	assert.Equal(t, date(2024, time.June, 15), got)
}

func TestAddIntervalDefaultsCountToOne(t *testing.T) {
	got := AddInterval(date(2024, time.May, 10), catalogdomain.IntervalMonth, 0)
	assert.Equal(t, date(2024, time.June, 10), got)
}

func TestAddIntervalPreservesTimeOfDay(t *testing.T) {
	start := time.Date(2024, time.January, 31, 13, 45, 30, 0, time.UTC)
	got := AddInterval(start, catalogdomain.IntervalMonth, 1)
	assert.Equal(t, time.Date(2024, time.February, 29, 13, 45, 30, 0, time.UTC), got)
}
