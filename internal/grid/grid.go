// Package grid builds the padded month grid and handles date navigation for
// the day, week and month views.
package grid

import (
	"fmt"
	"time"

	"dayplan/internal/dateutil"
	"dayplan/internal/model"
)

// GenerateMonthView returns the Sunday-to-Saturday weeks covering target's
// month, padded with days from the neighbouring months. today is compared by
// year, month and day only. Each Day.Date is noon in target's location.
func GenerateMonthView(target, today time.Time) []model.Week {
	loc := target.Location()
	year, month, _ := target.Date()

	first := time.Date(year, month, 1, 12, 0, 0, 0, loc)
	last := time.Date(year, month+1, 0, 12, 0, 0, 0, loc)

	lead := int(first.Weekday())
	trail := int(time.Saturday - last.Weekday())
	total := lead + last.Day() + trail

	weeks := make([]model.Week, 0, total/7)
	var week model.Week
	for n := 0; n < total; n++ {
		d := dateutil.AddDays(first, n-lead)
		dy, dm, _ := d.Date()
		week.Days[n%7] = model.Day{
			Date:           d,
			IsCurrentMonth: dy == year && dm == month,
			IsToday:        dateutil.DatesEqual(d, today),
		}
		if n%7 == 6 {
			weeks = append(weeks, week)
			week = model.Week{}
		}
	}
	return weeks
}

// WeekDates returns the Sunday-to-Saturday dates of the week containing
// target, each at noon in target's location.
func WeekDates(target time.Time) [7]time.Time {
	var out [7]time.Time
	offset := int(target.Weekday())
	for i := range out {
		out[i] = dateutil.AddDays(target, i-offset)
	}
	return out
}

// View is the calendar navigation granularity.
type View string

const (
	ViewDay   View = "day"
	ViewWeek  View = "week"
	ViewMonth View = "month"
)

func ParseView(s string) (View, error) {
	switch View(s) {
	case ViewDay, ViewWeek, ViewMonth:
		return View(s), nil
	case "":
		return ViewDay, nil
	default:
		return "", fmt.Errorf("unknown calendar view %q", s)
	}
}

// MaxStep bounds how far a single Shift may move, in units of its view.
const MaxStep = 1200

// Shift moves date by step units of view (negative steps go back) and
// returns noon of the destination day. step is clamped to ±MaxStep. Month
// steps keep the day of month where possible and otherwise clamp to the last
// day of the destination month, so Jan 31 + 1 month is Feb 28/29.
func Shift(date time.Time, view View, step int) time.Time {
	step = max(-MaxStep, min(step, MaxStep))
	switch view {
	case ViewWeek:
		return dateutil.AddDays(date, 7*step)
	case ViewMonth:
		y, m, d := date.Date()
		lastDay := time.Date(y, m+time.Month(step)+1, 0, 12, 0, 0, 0, date.Location()).Day()
		return time.Date(y, m+time.Month(step), min(d, lastDay), 12, 0, 0, 0, date.Location())
	default:
		return dateutil.AddDays(date, step)
	}
}
