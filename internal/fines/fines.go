// Package fines computes overdue fines for library loans.
package fines

import (
	"time"

	"github.com/shopspring/decimal"
)

// DaysBetween returns the number of calendar days from one date to another.
// Each time is reduced to its calendar date in its own location first, so
// the time of day never changes the result. The result is negative when to
// falls before from.
func DaysBetween(from, to time.Time) int {
	return dayNumber(to) - dayNumber(from)
}

// OverdueDays returns how many whole days evaluation lies past due, or 0.
func OverdueDays(due, evaluation time.Time) int {
	return max(0, DaysBetween(due, evaluation))
}

// Compute returns the fine owed at evaluation for a loan due on due.
// It never consults the wall clock; the evaluation date is whatever the
// caller supplies, which may be a backdated return date.
func Compute(due, evaluation time.Time, dailyRate decimal.Decimal) decimal.Decimal {
	return dailyRate.Mul(decimal.NewFromInt(int64(OverdueDays(due, evaluation))))
}

// CivilDate returns t's calendar date in t's own location as midnight UTC.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// dayNumber counts days from 1970-01-01 to t's calendar date in the
// proleptic Gregorian calendar. Plain integer arithmetic keeps it exact for
// any year time.Time can hold.
func dayNumber(t time.Time) int {
	y, m, d := t.Date()
	if m <= time.February {
		y--
	}
	era := y / 400
	if y < 0 && y%400 != 0 {
		era--
	}
	yoe := y - era*400
	mp := (int(m) + 9) % 12
	doy := (153*mp+2)/5 + d - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}
