// Package layout arranges the timed events of a single day into
// non-overlapping columns and computes their geometry on the day track.
package layout

import (
	"sort"

	"dayplan/internal/model"
	"dayplan/internal/timemath"
)

const (
	DefaultHourHeight = 80.0 // px per hour
	DefaultMinHeight  = 25.0 // px; keeps short events legible
	DefaultBaseZIndex = 10
)

// WidthMode selects how the track width is divided between columns.
type WidthMode string

const (
	// WidthGlobal divides the full width by the number of columns the whole
	// day needed, even where fewer events actually overlap.
	WidthGlobal WidthMode = "global"
	// WidthPerCluster gives each group of transitively overlapping events
	// its own width budget. Column assignment is identical to WidthGlobal.
	WidthPerCluster WidthMode = "cluster"
)

// ParseWidthMode returns WidthGlobal for anything it does not recognise.
func ParseWidthMode(s string) WidthMode {
	if WidthMode(s) == WidthPerCluster {
		return WidthPerCluster
	}
	return WidthGlobal
}

// Options controls geometry. Zero values are replaced by defaults.
type Options struct {
	HourHeight float64
	MinHeight  float64
	// BaseZIndex is the z-index of column 0. Zero selects DefaultBaseZIndex,
	// so a stack based at exactly 0 cannot be requested; negatives are kept.
	BaseZIndex int
	WidthMode  WidthMode
}

func (o Options) normalized() Options {
	if o.HourHeight <= 0 {
		o.HourHeight = DefaultHourHeight
	}
	if o.MinHeight <= 0 {
		o.MinHeight = DefaultMinHeight
	}
	if o.BaseZIndex == 0 {
		o.BaseZIndex = DefaultBaseZIndex
	}
	if o.WidthMode == "" {
		o.WidthMode = WidthGlobal
	}
	return o
}

// Engine is a stateless layout calculator; the zero value uses defaults and
// is safe for concurrent use.
type Engine struct {
	Options Options
}

func New(opts Options) Engine {
	return Engine{Options: opts.normalized()}
}

// ComputeLayout lays out events with default options.
func ComputeLayout(events []model.Event) []model.RenderableEvent {
	return Engine{}.ComputeLayout(events)
}

// placement is one event after sorting, with its resolved minutes.
type placement struct {
	ev         model.Event
	start, end int
	col        int
	cluster    int
}

// ComputeLayout assigns every event a column and geometry. All events must
// share one date and be valid (see model.Event.Validate). The input slice is
// not modified; the result is ordered column by column, in placement order
// within each column.
func (e Engine) ComputeLayout(events []model.Event) []model.RenderableEvent {
	if len(events) == 0 {
		return []model.RenderableEvent{}
	}
	opts := e.Options.normalized()

	placed, columns := pack(events)

	widths := make([]float64, len(placed))
	switch opts.WidthMode {
	case WidthPerCluster:
		perCluster := clusterColumnCounts(placed)
		for i, p := range placed {
			widths[i] = 100 / float64(perCluster[p.cluster])
		}
	default:
		w := 100 / float64(len(columns))
		for i := range widths {
			widths[i] = w
		}
	}

	out := make([]model.RenderableEvent, 0, len(placed))
	for col, members := range columns {
		for _, idx := range members {
			p := placed[idx]
			height := timemath.MinutesToPixels(p.end-p.start, opts.HourHeight)
			if height < opts.MinHeight {
				height = opts.MinHeight
			}
			out = append(out, model.RenderableEvent{
				Event:  p.ev,
				Column: col,
				Layout: model.Layout{
					Top:    timemath.MinutesToPixels(p.start, opts.HourHeight),
					Height: height,
					Left:   float64(col) * widths[idx],
					Width:  widths[idx],
					ZIndex: opts.BaseZIndex + col,
				},
			})
		}
	}
	return out
}

// Columns reports how many columns the day's events need.
func Columns(events []model.Event) int {
	if len(events) == 0 {
		return 0
	}
	_, columns := pack(events)
	return len(columns)
}

// pack sorts a copy of events by start ascending (longer first on ties) and
// places each one in the first column whose last event ends at or before its
// start. Touching events share a column. columns holds indexes into placed.
func pack(events []model.Event) ([]placement, [][]int) {
	placed := make([]placement, len(events))
	for i, ev := range events {
		placed[i] = placement{ev: ev, start: ev.StartMinutes(), end: ev.EndMinutes()}
	}
	sort.SliceStable(placed, func(i, j int) bool {
		a, b := placed[i], placed[j]
		if a.start != b.start {
			return a.start < b.start
		}
		return a.ev.Duration() > b.ev.Duration()
	})

	var columns [][]int
	lastEnd := make([]int, 0)
	cluster, clusterEnd := -1, -1

	for i := range placed {
		p := &placed[i]

		if p.start >= clusterEnd {
			cluster++
		}
		p.cluster = cluster
		if p.end > clusterEnd {
			clusterEnd = p.end
		}

		p.col = -1
		for c := range columns {
			if lastEnd[c] <= p.start {
				p.col = c
				break
			}
		}
		if p.col < 0 {
			p.col = len(columns)
			columns = append(columns, nil)
			lastEnd = append(lastEnd, 0)
		}
		columns[p.col] = append(columns[p.col], i)
		lastEnd[p.col] = p.end
	}
	return placed, columns
}

// clusterColumnCounts returns, per cluster, the number of columns its events
// span. First-fit always reuses the lowest free column, and every column is
// free when a new cluster begins, so a cluster occupies columns 0..n-1.
func clusterColumnCounts(placed []placement) []int {
	var counts []int
	for _, p := range placed {
		for len(counts) <= p.cluster {
			counts = append(counts, 0)
		}
		if p.col+1 > counts[p.cluster] {
			counts[p.cluster] = p.col + 1
		}
	}
	return counts
}
