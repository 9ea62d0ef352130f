// Package timemath converts between HH:MM clock strings, minutes since
// midnight and pixel offsets on a day track.
package timemath

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
)

const MinutesPerDay = 24 * 60

// ErrInvalidTimeFormat is returned by ParseClock for anything that is not a
// 24-hour HH:MM string.
var ErrInvalidTimeFormat = errors.New("invalid time format")

var clockRe = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// TimeToMinutes returns hours*60+minutes for an already validated HH:MM
// string. The result is meaningless for malformed input; validate with
// ParseClock at the boundary.
func TimeToMinutes(t string) int {
	if len(t) < 5 {
		return 0
	}
	h, _ := strconv.Atoi(t[0:2])
	m, _ := strconv.Atoi(t[3:5])
	return h*60 + m
}

// ParseClock validates t and returns minutes since midnight.
func ParseClock(t string) (int, error) {
	if !clockRe.MatchString(t) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, t)
	}
	return TimeToMinutes(t), nil
}

// MinutesToClock formats minutes since midnight as HH:MM. Values are clamped
// to [0, 23:59].
func MinutesToClock(m int) string {
	if m < 0 {
		m = 0
	}
	if m > MinutesPerDay-1 {
		m = MinutesPerDay - 1
	}
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

func MinutesToPixels(minutes int, hourHeight float64) float64 {
	return float64(minutes) / 60 * hourHeight
}

// PixelsToMinutes maps a vertical offset on the track back to a minute of the
// day, flooring and clamping to [0, MinutesPerDay].
func PixelsToMinutes(px, hourHeight float64) int {
	if hourHeight <= 0 || px <= 0 {
		return 0
	}
	m := math.Floor(px / hourHeight * 60)
	if m >= MinutesPerDay {
		return MinutesPerDay
	}
	return int(m)
}
