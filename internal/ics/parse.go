package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"dayplan/internal/dateutil"
	appLog "dayplan/internal/log"
	"dayplan/internal/model"
	"dayplan/internal/timemath"
)

// ImportResult is the outcome of converting one ICS payload into store
// events. Only single-day timed VEVENTs are imported.
type ImportResult struct {
	Events []model.Event

	SkippedAllDay    int
	SkippedMultiDay  int
	SkippedRecurring int
	SkippedInvalid   int
}

// Skipped is the total number of VEVENTs that were not imported.
func (r ImportResult) Skipped() int {
	return r.SkippedAllDay + r.SkippedMultiDay + r.SkippedRecurring + r.SkippedInvalid
}

// ParseICS converts an ICS payload into events on the wall clock of loc.
//
//   - All-day VEVENTs (VALUE=DATE or a date-only DTSTART) are skipped.
//   - VEVENTs carrying an RRULE are skipped; recurrence is not expanded.
//   - An event ending exactly at the next midnight is clipped to 23:59;
//     any other event crossing midnight is skipped.
//   - Times are truncated to the minute; events that collapse to zero
//     length are skipped.
func ParseICS(src Source, body []byte, loc *time.Location) (ImportResult, error) {
	var res ImportResult
	if len(body) == 0 {
		return res, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return res, err
	}

	for _, ve := range cal.Events() {
		ev, skip, err := convertVEvent(src, ve, loc)
		switch {
		case err != nil:
			appLog.Debug("ics vevent skipped", "id", src.ID, "reason", err)
			res.SkippedInvalid++
		case skip == skipAllDay:
			res.SkippedAllDay++
		case skip == skipMultiDay:
			res.SkippedMultiDay++
		case skip == skipRecurring:
			res.SkippedRecurring++
		default:
			res.Events = append(res.Events, ev)
		}
	}

	appLog.Info("ics parse completed",
		"id", src.ID,
		"imported", len(res.Events),
		"skipped", res.Skipped(),
	)
	return res, nil
}

type skipReason int

const (
	noSkip skipReason = iota
	skipAllDay
	skipMultiDay
	skipRecurring
)

func convertVEvent(src Source, ve *ical.VEvent, loc *time.Location) (model.Event, skipReason, error) {
	uid := propValue(ve, ical.ComponentPropertyUniqueId)
	if uid == "" {
		return model.Event{}, noSkip, errors.New("missing UID")
	}
	if propValue(ve, ical.ComponentPropertyRrule) != "" {
		return model.Event{}, skipRecurring, nil
	}
	if isAllDay(ve) {
		return model.Event{}, skipAllDay, nil
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return model.Event{}, noSkip, fmt.Errorf("uid %s: DTSTART: %w", uid, err)
	}
	end, err := eventEnd(ve, start)
	if err != nil {
		return model.Event{}, noSkip, fmt.Errorf("uid %s: %w", uid, err)
	}
	start = start.In(loc).Truncate(time.Minute)
	end = end.In(loc).Truncate(time.Minute)

	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()
	if !dateutil.DatesEqual(start, end) {
		nextMidnight := dateutil.StartOfDay(dateutil.AddDays(start, 1))
		if !end.Equal(nextMidnight) {
			return model.Event{}, skipMultiDay, nil
		}
		endMin = timemath.MinutesPerDay - 1
	}

	title := strings.TrimSpace(propValue(ve, ical.ComponentPropertySummary))
	if title == "" {
		title = "(untitled)"
	}

	ev := model.Event{
		ID:          src.ID + ":" + uid + ":" + dateutil.DateKey(start) + "T" + timemath.MinutesToClock(startMin),
		Title:       title,
		Date:        dateutil.DateKey(start),
		StartTime:   timemath.MinutesToClock(startMin),
		EndTime:     timemath.MinutesToClock(endMin),
		Category:    categoryOf(ve),
		Description: propValue(ve, ical.ComponentPropertyDescription),
		Source:      src.ID,
	}
	if err := ev.Validate(); err != nil {
		return model.Event{}, noSkip, fmt.Errorf("uid %s: %w", uid, err)
	}
	return ev, noSkip, nil
}

// eventEnd reads DTEND, or DTSTART plus DURATION when DTEND is absent.
func eventEnd(ve *ical.VEvent, start time.Time) (time.Time, error) {
	if ve.GetProperty(ical.ComponentPropertyDtEnd) != nil {
		end, err := ve.GetEndAt()
		if err != nil {
			return time.Time{}, fmt.Errorf("DTEND: %w", err)
		}
		return end, nil
	}
	raw := propValue(ve, ical.ComponentPropertyDuration)
	if raw == "" {
		return time.Time{}, errors.New("neither DTEND nor DURATION set")
	}
	d, err := parseDuration(strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, err
	}
	return d.addTo(start), nil
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}

func isAllDay(ve *ical.VEvent) bool {
	prop := ve.GetProperty(ical.ComponentPropertyDtStart)
	if prop == nil {
		return false
	}
	if vs, ok := prop.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(prop.Value, "T")
}

// categoryOf picks the first CATEGORIES entry naming a known category;
// everything else lands in logistics.
func categoryOf(ve *ical.VEvent) model.Category {
	for _, part := range strings.Split(propValue(ve, ical.ComponentPropertyCategories), ",") {
		c := model.Category(strings.ToLower(strings.TrimSpace(part)))
		if c.Valid() {
			return c
		}
	}
	return model.CategoryLogistics
}
