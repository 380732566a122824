package billing

import "time"

// Horizon is the yearly cutoff (July 1 by default) that closes the open
// accounting period for residents who have not checked out.
type Horizon struct {
	Month time.Month
	Day   int
}

// DefaultHorizon is the academic-year boundary.
var DefaultHorizon = Horizon{Month: time.July, Day: 1}

// AsOf returns the next cutoff on or after today: this year's cutoff when
// today is before it, next year's otherwise.
func (h Horizon) AsOf(today time.Time) time.Time {
	t := dateOf(today)
	cutoff := time.Date(t.Year(), h.Month, h.Day, 0, 0, 0, 0, time.UTC)
	if t.Before(cutoff) {
		return cutoff
	}
	return cutoff.AddDate(1, 0, 0)
}

// dateOf drops the clock part of t, keeping its calendar date.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// addMonths adds n calendar months to a date, clamping the day to the end of
// the target month (Jan 31 + 1 month = Feb 28/29).
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 + n
	y += total / 12
	month := time.Month(total%12 + 1)
	if last := daysIn(y, month); d > last {
		d = last
	}
	return time.Date(y, month, d, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// elapsed splits [from, to) into whole calendar months and residual days.
// An empty or inverted range yields zero for both.
func elapsed(from, to time.Time) (months, days int) {
	a, e := dateOf(from), dateOf(to)
	if !e.After(a) {
		return 0, 0
	}
	months = (e.Year()-a.Year())*12 + int(e.Month()) - int(a.Month())
	for months > 0 && addMonths(a, months).After(e) {
		months--
	}
	days = int(e.Sub(addMonths(a, months)).Hours() / 24)
	return months, days
}
