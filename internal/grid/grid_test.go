package grid

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dayplan/internal/dateutil"
	"dayplan/internal/model"
)

func flatten(weeks []model.Week) []model.Day {
	var days []model.Day
	for _, w := range weeks {
		days = append(days, w.Days[:]...)
	}
	return days
}

func TestGenerateMonthView_LeapFebruary(t *testing.T) {
	target := time.Date(2024, 2, 15, 10, 0, 0, 0, time.UTC)
	today := time.Date(2024, 2, 20, 23, 0, 0, 0, time.UTC)

	weeks := GenerateMonthView(target, today)
	require.Len(t, weeks, 5)

	days := flatten(weeks)
	assert.Equal(t, "2024-01-28", dateutil.DateKey(days[0].Date))
	assert.Equal(t, time.Sunday, days[0].Date.Weekday())
	assert.Equal(t, "2024-03-02", dateutil.DateKey(days[len(days)-1].Date))
	assert.Equal(t, time.Saturday, days[len(days)-1].Date.Weekday())

	inMonth, todays := 0, 0
	for _, d := range days {
		if d.IsCurrentMonth {
			inMonth++
			assert.Equal(t, time.February, d.Date.Month())
		}
		if d.IsToday {
			todays++
			assert.Equal(t, "2024-02-20", dateutil.DateKey(d.Date))
		}
	}
	assert.Equal(t, 29, inMonth)
	assert.Equal(t, 1, todays)
}

func TestGenerateMonthView_Shape(t *testing.T) {
	today := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for year := 2023; year <= 2026; year++ {
		for month := time.January; month <= time.December; month++ {
			target := time.Date(year, month, 10, 0, 0, 0, 0, time.UTC)
			weeks := GenerateMonthView(target, today)
			days := flatten(weeks)

			assert.GreaterOrEqual(t, len(weeks), 4)
			assert.LessOrEqual(t, len(weeks), 6)
			assert.Equal(t, time.Sunday, days[0].Date.Weekday())
			assert.Equal(t, time.Saturday, days[len(days)-1].Date.Weekday())

			// Contiguous range.
			for i := 1; i < len(days); i++ {
				assert.Equal(t, days[i-1].Date.AddDate(0, 0, 1), days[i].Date)
			}

			inMonth := 0
			for _, d := range days {
				if d.Date.Month() == month && d.Date.Year() == year {
					assert.True(t, d.IsCurrentMonth)
					inMonth++
				} else {
					assert.False(t, d.IsCurrentMonth)
				}
			}
			assert.Equal(t, time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day(), inMonth)
		}
	}
}

func TestGenerateMonthView_MonthStartingOnSunday(t *testing.T) {
	// September 2024 starts on a Sunday and ends on a Monday.
	weeks := GenerateMonthView(time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), time.Time{})
	days := flatten(weeks)
	assert.Equal(t, "2024-09-01", dateutil.DateKey(days[0].Date))
	assert.Equal(t, "2024-10-05", dateutil.DateKey(days[len(days)-1].Date))

	// February 2015 starts on Sunday and ends on Saturday: exactly 4 weeks.
	assert.Len(t, GenerateMonthView(time.Date(2015, 2, 1, 0, 0, 0, 0, time.UTC), time.Time{}), 4)
}

func TestGenerateMonthView_TodayFlag(t *testing.T) {
	target := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// Today outside the grid.
	for _, d := range flatten(GenerateMonthView(target, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))) {
		assert.False(t, d.IsToday)
	}

	// Today in the trailing padding is still flagged.
	todays := 0
	for _, d := range flatten(GenerateMonthView(target, time.Date(2024, 4, 2, 8, 0, 0, 0, time.UTC))) {
		if d.IsToday {
			todays++
			assert.False(t, d.IsCurrentMonth)
		}
	}
	assert.Equal(t, 1, todays)
}

func TestGenerateMonthView_Deterministic(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*60*60)
	target := time.Date(2024, 12, 31, 23, 59, 0, 0, loc)
	today := time.Date(2024, 12, 25, 0, 0, 0, 0, loc)

	a := GenerateMonthView(target, today)
	b := GenerateMonthView(target, today)
	assert.Equal(t, a, b)
	assert.Equal(t, time.Date(2024, 12, 31, 23, 59, 0, 0, loc), target)

	days := flatten(a)
	assert.Equal(t, "2024-12-01", dateutil.DateKey(days[0].Date))
	assert.Equal(t, "2025-01-04", dateutil.DateKey(days[len(days)-1].Date))
	assert.Equal(t, loc, days[0].Date.Location())
}

func TestWeekDates(t *testing.T) {
	got := WeekDates(time.Date(2024, 2, 29, 15, 0, 0, 0, time.UTC))
	assert.Equal(t, "2024-02-25", dateutil.DateKey(got[0]))
	assert.Equal(t, "2024-03-02", dateutil.DateKey(got[6]))
	assert.Equal(t, 12, got[0].Hour())

	sunday := WeekDates(time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "2024-03-03", dateutil.DateKey(sunday[0]))
}

func TestParseView(t *testing.T) {
	v, err := ParseView("week")
	require.NoError(t, err)
	assert.Equal(t, ViewWeek, v)

	v, err = ParseView("")
	require.NoError(t, err)
	assert.Equal(t, ViewDay, v)

	_, err = ParseView("year")
	assert.Error(t, err)
}

func TestShift(t *testing.T) {
	base := time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		view View
		step int
		want string
	}{
		{"next day", ViewDay, 1, "2024-02-01"},
		{"prev day", ViewDay, -1, "2024-01-30"},
		{"next week", ViewWeek, 1, "2024-02-07"},
		{"prev week", ViewWeek, -1, "2024-01-24"},
		{"next month clamps", ViewMonth, 1, "2024-02-29"},
		{"two months", ViewMonth, 2, "2024-03-31"},
		{"prev month", ViewMonth, -1, "2023-12-31"},
		{"prev month across year clamps", ViewMonth, -2, "2023-11-30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Shift(base, tt.view, tt.step)
			assert.Equal(t, tt.want, dateutil.DateKey(got))
			assert.Equal(t, 12, got.Hour())
		})
	}
}

func TestShiftClampsStep(t *testing.T) {
	base := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, Shift(base, ViewMonth, MaxStep), Shift(base, ViewMonth, 1<<62))
	assert.Equal(t, Shift(base, ViewWeek, -MaxStep), Shift(base, ViewWeek, -1<<62))
	assert.Equal(t, "2124-01-31", dateutil.DateKey(Shift(base, ViewMonth, 1<<62)))
}

// In America/Santiago local midnight does not exist on 2024-09-08.
func TestGenerateMonthView_SkippedMidnight(t *testing.T) {
	loc, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)

	weeks := GenerateMonthView(time.Date(2024, 9, 10, 0, 0, 0, 0, loc), time.Date(2024, 9, 8, 10, 0, 0, 0, loc))
	days := flatten(weeks)
	require.Len(t, weeks, 5)

	first := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	for i, d := range days {
		assert.Equal(t, dateutil.DateKey(first.AddDate(0, 0, i)), dateutil.DateKey(d.Date), "cell %d", i)
		assert.Equal(t, time.Weekday(i%7), d.Date.Weekday(), "cell %d", i)
	}
	assert.Equal(t, "2024-10-05", dateutil.DateKey(days[len(days)-1].Date))
	assert.True(t, days[7].IsToday)
	assert.Equal(t, "2024-09-08", dateutil.DateKey(days[7].Date))

	week := WeekDates(time.Date(2024, 9, 10, 0, 0, 0, 0, loc))
	assert.Equal(t, "2024-09-08", dateutil.DateKey(week[0]))
	assert.Equal(t, "2024-09-14", dateutil.DateKey(week[6]))

	assert.Equal(t, "2024-09-08", dateutil.DateKey(Shift(time.Date(2024, 9, 7, 0, 0, 0, 0, loc), ViewDay, 1)))
}
