package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Interval is a half-open span of time [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps applies the half-open rule: touching endpoints do not overlap.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && i.End.After(other.Start)
}

// Contains reports whether other lies entirely inside the receiver.
func (i Interval) Contains(other Interval) bool {
	return !other.Start.Before(i.Start) && !other.End.After(i.End)
}

// AvailabilityProvider returns busy intervals keyed by contact key for the requested window.
type AvailabilityProvider interface {
	FreeBusy(ctx context.Context, contactKeys []string, start, end time.Time) (map[string][]Interval, error)
}

// Request describes a slot search.
type Request struct {
	Participants    []string
	WindowStart     time.Time
	WindowEnd       time.Time
	DurationMinutes int
	Preferred       []Interval
}

// CandidateSlot is one ranked meeting proposal.
type CandidateSlot struct {
	Start     time.Time
	End       time.Time
	Available []string
	Score     int
}

// ParticipantCount is the number of participants free for the slot.
func (s CandidateSlot) ParticipantCount() int {
	return len(s.Available)
}

// Engine ranks candidate meeting slots using busy data from an AvailabilityProvider.
type Engine struct {
	provider AvailabilityProvider
	policy   Policy
}

// NewEngine constructs an Engine. Unset policy fields fall back to DefaultPolicy.
func NewEngine(provider AvailabilityProvider, policy Policy) *Engine {
	return &Engine{provider: provider, policy: policy.withDefaults()}
}

// Policy returns the effective policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// FindAvailableSlots validates the request, fetches busy data in one batched call and
// returns every surviving slot ordered by descending score. Slots with equal scores keep
// their chronological order.
func (e *Engine) FindAvailableSlots(ctx context.Context, req Request) ([]CandidateSlot, error) {
	if e == nil {
		return nil, fmt.Errorf("scheduler: engine is nil")
	}

	participants, reqErr := e.validate(req)
	if reqErr != nil {
		return nil, reqErr
	}
	if e.provider == nil {
		return nil, &ProviderError{Err: errors.New("availability provider not configured")}
	}

	loc := e.policy.Location
	windowStart := req.WindowStart.In(loc)
	windowEnd := req.WindowEnd.In(loc)

	callCtx, cancel := context.WithTimeout(ctx, e.policy.ProviderTimeout)
	defer cancel()

	busy, err := e.provider.FreeBusy(callCtx, participants, windowStart, windowEnd)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, &ProviderError{Err: err, Timeout: true}
		}
		return nil, &ProviderError{Err: err}
	}

	return Rank(participants, busy, windowStart, windowEnd, time.Duration(req.DurationMinutes)*time.Minute, req.Preferred, e.policy), nil
}

// Rank is the pure part of the search: enumerate, filter, score and sort.
func Rank(participants []string, busy map[string][]Interval, windowStart, windowEnd time.Time, duration time.Duration, preferred []Interval, policy Policy) []CandidateSlot {
	policy = policy.withDefaults()
	loc := policy.Location
	windowStart = windowStart.In(loc)
	windowEnd = windowEnd.In(loc)

	slots := make([]CandidateSlot, 0)
	for slotStart := windowStart; !slotStart.Add(duration).After(windowEnd); slotStart = slotStart.Add(policy.Stride) {
		slot := Interval{Start: slotStart, End: slotStart.Add(duration)}

		if !policy.withinBusinessHours(slot.Start, slot.End) {
			continue
		}
		if policy.excluded(slot.Start.Weekday()) {
			continue
		}

		available := make([]string, 0, len(participants))
		for _, key := range participants {
			if isFree(busy[key], slot) {
				available = append(available, key)
			}
		}
		if len(available) < policy.MinParticipants {
			continue
		}

		score := len(available)
		for _, window := range preferred {
			if window.Contains(slot) {
				score += policy.PreferredBonus
				break
			}
		}

		slots = append(slots, CandidateSlot{
			Start:     slot.Start,
			End:       slot.End,
			Available: available,
			Score:     score,
		})
	}

	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].Score > slots[j].Score
	})
	return slots
}

func isFree(busy []Interval, slot Interval) bool {
	for _, b := range busy {
		if slot.Overlaps(b) {
			return false
		}
	}
	return true
}

func (e *Engine) validate(req Request) ([]string, *RequestError) {
	rErr := &RequestError{}

	participants := normalizeKeys(req.Participants)
	if len(participants) == 0 {
		rErr.add("participants", "at least one participant is required")
	}
	if req.DurationMinutes < int(e.policy.MinDuration/time.Minute) {
		rErr.add("duration", fmt.Sprintf("duration must be at least %d minutes", int(e.policy.MinDuration/time.Minute)))
	}
	switch {
	case req.WindowStart.IsZero():
		rErr.add("timeMin", "window start is required")
	case req.WindowEnd.IsZero():
		rErr.add("timeMax", "window end is required")
	case !req.WindowStart.Before(req.WindowEnd):
		rErr.add("timeMax", "window start must be before window end")
	}
	for i, p := range req.Preferred {
		if !p.Start.Before(p.End) {
			rErr.add(fmt.Sprintf("preferredTimes[%d]", i), "preferred window start must be before end")
		}
	}

	if rErr.HasErrors() {
		return nil, rErr
	}
	return participants, nil
}

func normalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	result := make([]string, 0, len(keys))
	for _, key := range keys {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
