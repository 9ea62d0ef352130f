package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"dayplan/internal/dateutil"
	"dayplan/internal/model"
	"dayplan/internal/timemath"
)

const productID = "-//dayplan//dayplan//EN"

// Export renders events as a VCALENDAR with times on the wall clock of loc.
// stamp is used for DTSTAMP so the output is reproducible. Events that fail
// validation are reported instead of silently dropped.
func Export(events []model.Event, loc *time.Location, stamp time.Time) (string, error) {
	if loc == nil {
		loc = time.Local
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return "", fmt.Errorf("ics: export %s: %w", ev.ID, err)
		}
		day, err := dateutil.ParseDateKey(ev.Date, loc)
		if err != nil {
			return "", fmt.Errorf("ics: export %s: %w", ev.ID, err)
		}

		start := atClock(day, timemath.TimeToMinutes(ev.StartTime))
		end := atClock(day, timemath.TimeToMinutes(ev.EndTime))

		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(stamp)
		ve.SetStartAt(start)
		ve.SetEndAt(end)
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		ve.SetProperty(ical.ComponentPropertyCategories, string(ev.Category))
	}

	return cal.Serialize(), nil
}

// atClock builds the wall-clock time on day, so DST shifts do not move it.
func atClock(day time.Time, minutes int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, minutes/60, minutes%60, 0, 0, day.Location())
}
