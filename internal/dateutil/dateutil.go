// Package dateutil holds the date-key helpers shared by the layout engine, the
// month grid and the event store.
package dateutil

import (
	"errors"
	"fmt"
	"time"
)

// KeyLayout is the canonical YYYY-MM-DD date key format.
const KeyLayout = "2006-01-02"

var ErrInvalidDateKey = errors.New("invalid date key")

// DateKey formats t's own calendar fields as YYYY-MM-DD. t is never converted
// to UTC first, so a late-evening local time keeps its local date.
func DateKey(t time.Time) string {
	y, m, d := t.Date()
	return fmt.Sprintf("%04d-%02d-%02d", y, int(m), d)
}

// DatesEqual reports whether a and b fall on the same year, month and day,
// each read in its own location.
func DatesEqual(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ParseDateKey parses a YYYY-MM-DD key into noon of that day in loc
// (time.Local when nil).
func ParseDateKey(key string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if len(key) != len(KeyLayout) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateKey, key)
	}
	// Parsed in UTC so a zone without this local midnight cannot move the day.
	t, err := time.Parse(KeyLayout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateKey, key)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, loc), nil
}

// Noon returns 12:00 on t's calendar day in t's location. Calendar days are
// carried at noon: DST switches happen around midnight, never at midday, so
// walking noon-anchored days with AddDays never skips or repeats a date.
func Noon(t time.Time) time.Time {
	return AddDays(t, 0)
}

// AddDays returns noon of the calendar day n days after t's day.
func AddDays(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+n, 12, 0, 0, 0, t.Location())
}

// StartOfDay returns the first instant of t's calendar day. Where a DST jump
// skips local midnight the day starts at the transition instead.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	if !DatesEqual(start, t) {
		if _, end := start.ZoneBounds(); !end.IsZero() {
			start = end
		}
	}
	return start
}
