package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"dayplan/internal/dateutil"
	"dayplan/internal/timemath"
)

// Category is used only for presentation; the layout engine ignores it.
type Category string

const (
	CategoryDeepWork  Category = "deep_work"
	CategoryMeeting   Category = "meeting"
	CategoryHealth    Category = "health"
	CategoryLogistics Category = "logistics"
	CategoryLeisure   Category = "leisure"
)

// Categories lists every accepted Category in display order.
var Categories = []Category{
	CategoryDeepWork,
	CategoryMeeting,
	CategoryHealth,
	CategoryLogistics,
	CategoryLeisure,
}

func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// ErrInvalidEvent wraps every validation failure reported by Event.Validate.
var ErrInvalidEvent = errors.New("invalid event")

// Event is a single-day, timed calendar entry. The store owns it; the layout
// engine only reads it.
type Event struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Date        string   `json:"date"`      // YYYY-MM-DD
	StartTime   string   `json:"startTime"` // HH:MM
	EndTime     string   `json:"endTime"`   // HH:MM
	Category    Category `json:"category"`
	Description string   `json:"description,omitempty"`

	// Source is the feed ID for events imported from ICS; empty for
	// events entered by hand.
	Source string `json:"source,omitempty"`
}

// Validate checks the event at the store boundary so the layout engine can
// assume well-formed times.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: empty title", ErrInvalidEvent)
	}
	if _, err := dateutil.ParseDateKey(e.Date, time.UTC); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	start, err := timemath.ParseClock(e.StartTime)
	if err != nil {
		return fmt.Errorf("%w: start: %w", ErrInvalidEvent, err)
	}
	end, err := timemath.ParseClock(e.EndTime)
	if err != nil {
		return fmt.Errorf("%w: end: %w", ErrInvalidEvent, err)
	}
	if start >= end {
		return fmt.Errorf("%w: start %s is not before end %s", ErrInvalidEvent, e.StartTime, e.EndTime)
	}
	if !e.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidEvent, e.Category)
	}
	return nil
}

// StartMinutes and EndMinutes assume a validated event.
func (e Event) StartMinutes() int { return timemath.TimeToMinutes(e.StartTime) }
func (e Event) EndMinutes() int   { return timemath.TimeToMinutes(e.EndTime) }

// Duration in minutes.
func (e Event) Duration() int { return e.EndMinutes() - e.StartMinutes() }

// Layout is the computed geometry of one event on the day track. Top and
// Height are pixels; Left and Width are percentages of the track width.
type Layout struct {
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	ZIndex int     `json:"zIndex"`
}

// RenderableEvent is an Event plus the Layout from a single layout pass.
type RenderableEvent struct {
	Event
	Column int    `json:"column"`
	Layout Layout `json:"layout"`
}

// Day is one cell of a month grid.
type Day struct {
	Date           time.Time `json:"date"`
	IsCurrentMonth bool      `json:"isCurrentMonth"`
	IsToday        bool      `json:"isToday"`
}

// Week holds seven days, Sunday first.
type Week struct {
	Days [7]Day `json:"days"`
}
