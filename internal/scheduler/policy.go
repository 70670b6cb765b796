package scheduler

import (
	"fmt"
	"time"
)

var jst = time.FixedZone("JST", 9*60*60)

// ClockTime is a wall-clock time of day expressed in minutes after midnight.
type ClockTime int

// NewClockTime builds a ClockTime from hour and minute components.
func NewClockTime(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

// ParseClockTime parses "HH:MM" into a ClockTime.
func ParseClockTime(value string) (ClockTime, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(value, "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("scheduler: invalid clock time %q", value)
	}
	if hour < 0 || hour > 24 || minute < 0 || minute > 59 || (hour == 24 && minute != 0) {
		return 0, fmt.Errorf("scheduler: invalid clock time %q", value)
	}
	return NewClockTime(hour, minute), nil
}

// String renders the clock time as HH:MM.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On returns the instant at this clock time on the calendar day of ref.
func (c ClockTime) On(ref time.Time) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ref.Location()).Add(time.Duration(c) * time.Minute)
}

// Policy holds the filtering and scoring knobs of the slot search.
type Policy struct {
	Location         *time.Location
	Stride           time.Duration
	BusinessStart    ClockTime
	BusinessEnd      ClockTime
	ExcludedWeekdays []time.Weekday
	MinParticipants  int
	MinDuration      time.Duration
	PreferredBonus   int
	ProviderTimeout  time.Duration
}

// DefaultPolicy returns weekday office hours in Japan with a 30 minute stride.
func DefaultPolicy() Policy {
	return Policy{
		Location:         jst,
		Stride:           30 * time.Minute,
		BusinessStart:    NewClockTime(9, 0),
		BusinessEnd:      NewClockTime(18, 0),
		ExcludedWeekdays: []time.Weekday{time.Saturday, time.Sunday},
		MinParticipants:  2,
		MinDuration:      30 * time.Minute,
		PreferredBonus:   10,
		ProviderTimeout:  10 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.Location == nil {
		p.Location = def.Location
	}
	if p.Stride <= 0 {
		p.Stride = def.Stride
	}
	if p.BusinessStart == 0 && p.BusinessEnd == 0 {
		p.BusinessStart, p.BusinessEnd = def.BusinessStart, def.BusinessEnd
	}
	if p.ExcludedWeekdays == nil {
		p.ExcludedWeekdays = def.ExcludedWeekdays
	}
	if p.MinParticipants <= 0 {
		p.MinParticipants = def.MinParticipants
	}
	if p.MinDuration <= 0 {
		p.MinDuration = def.MinDuration
	}
	if p.PreferredBonus < 0 {
		p.PreferredBonus = 0
	}
	if p.ProviderTimeout <= 0 {
		p.ProviderTimeout = def.ProviderTimeout
	}
	return p
}

// withinBusinessHours reports whether [start, end) lies inside the band on start's day.
func (p Policy) withinBusinessHours(start, end time.Time) bool {
	open := p.BusinessStart.On(start)
	closing := p.BusinessEnd.On(start)
	return !start.Before(open) && !end.After(closing)
}

func (p Policy) excluded(day time.Weekday) bool {
	for _, w := range p.ExcludedWeekdays {
		if w == day {
			return true
		}
	}
	return false
}
