package ics

import (
	"errors"
	"fmt"
	"time"
)

// icalDuration is an RFC 5545 dur-value. Days and weeks are nominal: they
// advance the calendar date and keep the wall clock, while the time part is
// exact elapsed time.
type icalDuration struct {
	Days  int
	Clock time.Duration
}

// addTo returns t moved forward by d.
func (d icalDuration) addTo(t time.Time) time.Time {
	return t.AddDate(0, 0, d.Days).Add(d.Clock)
}

var errBadDuration = errors.New("invalid DURATION")

// parseDuration reads values such as "PT1H30M", "P1D", "P1DT2H" or "P2W".
// Negative durations are rejected since an event cannot end before it starts.
func parseDuration(s string) (icalDuration, error) {
	var out icalDuration
	rest := s
	if len(rest) > 0 && rest[0] == '+' {
		rest = rest[1:]
	}
	if len(rest) < 2 || rest[0] != 'P' {
		return out, fmt.Errorf("%w: %q", errBadDuration, s)
	}
	rest = rest[1:]

	inTime, seen := false, false
	for len(rest) > 0 {
		if rest[0] == 'T' {
			if inTime || len(rest) == 1 {
				return icalDuration{}, fmt.Errorf("%w: %q", errBadDuration, s)
			}
			inTime = true
			rest = rest[1:]
			continue
		}

		n, i := 0, 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			n = n*10 + int(rest[i]-'0')
			if n > 1<<20 {
				return icalDuration{}, fmt.Errorf("%w: %q", errBadDuration, s)
			}
			i++
		}
		if i == 0 || i == len(rest) {
			return icalDuration{}, fmt.Errorf("%w: %q", errBadDuration, s)
		}

		switch unit := rest[i]; {
		case !inTime && unit == 'W':
			out.Days += 7 * n
		case !inTime && unit == 'D':
			out.Days += n
		case inTime && unit == 'H':
			out.Clock += time.Duration(n) * time.Hour
		case inTime && unit == 'M':
			out.Clock += time.Duration(n) * time.Minute
		case inTime && unit == 'S':
			out.Clock += time.Duration(n) * time.Second
		default:
			return icalDuration{}, fmt.Errorf("%w: %q", errBadDuration, s)
		}
		seen = true
		rest = rest[i+1:]
	}
	if !seen {
		return icalDuration{}, fmt.Errorf("%w: %q", errBadDuration, s)
	}
	return out, nil
}
