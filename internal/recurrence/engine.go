package recurrence

import (
	"errors"
	"time"

	"github.com/kiyo123456/Tatemoku-management/internal/scheduler"
)

var jst = time.FixedZone("JST", 9*60*60)

// Frequency represents supported recurrence intervals.
type Frequency int

const (
	// FrequencyUnspecified indicates the pattern frequency is not set.
	FrequencyUnspecified Frequency = iota
	// FrequencyDaily repeats every day, optionally limited to Weekdays.
	FrequencyDaily
	// FrequencyWeekly repeats on the selected weekdays only.
	FrequencyWeekly
)

// ParseFrequency maps "daily"/"weekly" to a Frequency.
func ParseFrequency(value string) Frequency {
	switch value {
	case "daily":
		return FrequencyDaily
	case "weekly":
		return FrequencyWeekly
	default:
		return FrequencyUnspecified
	}
}

// Pattern describes a recurring preferred time band, such as "every Tuesday 13:00-15:00".
type Pattern struct {
	Frequency Frequency
	Weekdays  []time.Weekday
	From      scheduler.ClockTime
	To        scheduler.ClockTime
}

// Engine expands recurring patterns into concrete windows.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine that interprets clock times in loc.
// If loc is nil, Asia/Tokyo (JST) is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = jst
	}
	return &Engine{location: loc}
}

// ErrInvalidFrequency indicates the recurrence frequency is not supported.
var ErrInvalidFrequency = errors.New("recurrence: invalid frequency")

// ErrInvalidWindow indicates the expansion range is empty or inverted.
var ErrInvalidWindow = errors.New("recurrence: range start must be before range end")

// ErrInvalidBand indicates the pattern's clock band is empty.
var ErrInvalidBand = errors.New("recurrence: band start must be before band end")

// Expand produces the pattern's windows that intersect [rangeStart, rangeEnd), clipped to the range.
//
// Windows are produced in chronological order, one per matching calendar day in the
// engine's location.
func (e *Engine) Expand(pattern Pattern, rangeStart, rangeEnd time.Time) ([]scheduler.Interval, error) {
	loc := e.location
	if loc == nil {
		loc = jst
	}
	if !rangeStart.Before(rangeEnd) {
		return nil, ErrInvalidWindow
	}
	if pattern.From >= pattern.To {
		return nil, ErrInvalidBand
	}

	weekdaySet := make(map[time.Weekday]struct{}, len(pattern.Weekdays))
	for _, day := range pattern.Weekdays {
		weekdaySet[day] = struct{}{}
	}

	rangeStart = rangeStart.In(loc)
	rangeEnd = rangeEnd.In(loc)

	windows := make([]scheduler.Interval, 0)
	for day := startOfDay(rangeStart); day.Before(rangeEnd); day = day.AddDate(0, 0, 1) {
		include, err := shouldInclude(pattern.Frequency, weekdaySet, day.Weekday())
		if err != nil {
			return nil, err
		}
		if !include {
			continue
		}

		window := scheduler.Interval{Start: pattern.From.On(day), End: pattern.To.On(day)}
		if window.Start.Before(rangeStart) {
			window.Start = rangeStart
		}
		if window.End.After(rangeEnd) {
			window.End = rangeEnd
		}
		if window.Start.Before(window.End) {
			windows = append(windows, window)
		}
	}

	return windows, nil
}

// ExpandAll expands several patterns and concatenates the results in pattern order.
func (e *Engine) ExpandAll(patterns []Pattern, rangeStart, rangeEnd time.Time) ([]scheduler.Interval, error) {
	var all []scheduler.Interval
	for _, p := range patterns {
		windows, err := e.Expand(p, rangeStart, rangeEnd)
		if err != nil {
			return nil, err
		}
		all = append(all, windows...)
	}
	return all, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func shouldInclude(freq Frequency, weekdaySet map[time.Weekday]struct{}, day time.Weekday) (bool, error) {
	switch freq {
	case FrequencyDaily:
		if len(weekdaySet) == 0 {
			return true, nil
		}
		_, ok := weekdaySet[day]
		return ok, nil
	case FrequencyWeekly:
		if len(weekdaySet) == 0 {
			return false, nil
		}
		_, ok := weekdaySet[day]
		return ok, nil
	case FrequencyUnspecified:
		fallthrough
	default:
		return false, ErrInvalidFrequency
	}
}
