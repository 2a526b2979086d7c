// Package actiondate computes debit-order action dates and the debit days they cover.
package actiondate

import (
	"sort"
	"time"
)

// IsBusinessDay reports whether t falls on a Monday to Friday.
func IsBusinessDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// Midnight truncates t to the start of its calendar day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Next returns the date reached by advancing from today one calendar day at a time
// until leadDays business days have been counted. leadDays below 1 is treated as 1.
func Next(today time.Time, leadDays int) time.Time {
	if leadDays < 1 {
		leadDays = 1
	}
	day := Midnight(today)
	counted := 0
	for counted < leadDays {
		day = day.AddDate(0, 0, 1)
		if IsBusinessDay(day) {
			counted++
		}
	}
	return day
}

// BusinessDaysBetween counts business days in the half-open interval (from, to].
func BusinessDaysBetween(from, to time.Time) int {
	day := Midnight(from)
	end := Midnight(to)
	count := 0
	for day.Before(end) {
		day = day.AddDate(0, 0, 1)
		if IsBusinessDay(day) {
			count++
		}
	}
	return count
}

// Window returns the calendar days an action date collects for: every day after the
// previous business day up to and including the action date.
func Window(actionDate time.Time) []time.Time {
	end := Midnight(actionDate)
	day := end.AddDate(0, 0, -1)
	for !IsBusinessDay(day) {
		day = day.AddDate(0, 0, -1)
	}

	var days []time.Time
	for day.Before(end) {
		day = day.AddDate(0, 0, 1)
		days = append(days, day)
	}
	return days
}

// DebitDays returns the sorted debit days of month that fall due on actionDate.
// A debit day past the end of a month is due on that month's last day.
func DebitDays(actionDate time.Time) []int {
	set := map[int]struct{}{}
	for _, day := range Window(actionDate) {
		set[day.Day()] = struct{}{}
		if last := lastDayOfMonth(day); day.Day() == last {
			for d := last + 1; d <= 31; d++ {
				set[d] = struct{}{}
			}
		}
	}

	days := make([]int, 0, len(set))
	for d := range set {
		days = append(days, d)
	}
	sort.Ints(days)
	return days
}

func lastDayOfMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
