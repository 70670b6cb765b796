package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	busy  map[string][]Interval
	err   error
	delay time.Duration
	calls atomic.Int32
	keys  []string
}

func (s *stubProvider) FreeBusy(ctx context.Context, keys []string, start, end time.Time) (map[string][]Interval, error) {
	s.calls.Add(1)
	s.keys = append([]string(nil), keys...)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.busy, nil
}

// monday returns 2024-03-04 (a Monday) at the given JST wall-clock time.
func monday(hour, minute int) time.Time {
	return time.Date(2024, time.March, 4, hour, minute, 0, 0, jst)
}

func TestEngine_FindAvailableSlots_RanksByCoverage(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{busy: map[string][]Interval{
		"a@example.com": {{Start: monday(10, 0), End: monday(11, 0)}},
		"b@example.com": {{Start: monday(14, 0), End: monday(15, 0)}},
	}}
	engine := NewEngine(provider, DefaultPolicy())

	slots, err := engine.FindAvailableSlots(context.Background(), Request{
		Participants:    []string{"a@example.com", "b@example.com", "c@example.com"},
		WindowStart:     monday(9, 0),
		WindowEnd:       monday(18, 0),
		DurationMinutes: 60,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, provider.calls.Load())
	require.Len(t, slots, 17)

	assert.True(t, slots[0].Start.Equal(monday(9, 0)))
	assert.Equal(t, 3, slots[0].Score)
	assert.True(t, slots[1].Start.Equal(monday(11, 0)))
	assert.Equal(t, 3, slots[1].Score)

	for i := 1; i < len(slots); i++ {
		assert.GreaterOrEqual(t, slots[i-1].Score, slots[i].Score, "scores must be non-increasing")
		if slots[i-1].Score == slots[i].Score {
			assert.True(t, slots[i-1].Start.Before(slots[i].Start), "ties keep chronological order")
		}
	}

	var tenOClock *CandidateSlot
	for i := range slots {
		if slots[i].Start.Equal(monday(10, 0)) {
			tenOClock = &slots[i]
		}
	}
	require.NotNil(t, tenOClock)
	assert.Equal(t, 2, tenOClock.Score)
	assert.Equal(t, []string{"b@example.com", "c@example.com"}, tenOClock.Available)
}

func TestEngine_FindAvailableSlots_HalfOpenBoundary(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{busy: map[string][]Interval{
		"a@example.com": {{Start: monday(10, 0), End: monday(11, 0)}},
	}}
	engine := NewEngine(provider, DefaultPolicy())

	slots, err := engine.FindAvailableSlots(context.Background(), Request{
		Participants:    []string{"a@example.com", "b@example.com"},
		WindowStart:     monday(9, 0),
		WindowEnd:       monday(10, 0),
		DurationMinutes: 60,
	})
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, slots[0].Available)

	slots, err = engine.FindAvailableSlots(context.Background(), Request{
		Participants:    []string{"a@example.com", "b@example.com"},
		WindowStart:     monday(11, 0),
		WindowEnd:       monday(12, 0),
		DurationMinutes: 60,
	})
	require.NoError(t, err)
	require.Len(t, slots, 1, "slot starting when busy ends is free")
}

func TestEngine_FindAvailableSlots_MinimumParticipants(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{busy: map[string][]Interval{
		"a@example.com": {{Start: monday(9, 0), End: monday(18, 0)}},
	}}

	slots, err := NewEngine(provider, DefaultPolicy()).FindAvailableSlots(context.Background(), Request{
		Participants:    []string{"a@example.com", "b@example.com"},
		WindowStart:     monday(9, 0),
		WindowEnd:       monday(18, 0),
		DurationMinutes: 30,
	})
	require.NoError(t, err)
	assert.Empty(t, slots)

	policy := DefaultPolicy()
	policy.MinParticipants = 1
	slots, err = NewEngine(provider, policy).FindAvailableSlots(context.Background(), Request{
		Participants:    []string{"a@example.com", "b@example.com"},
		WindowStart:     monday(9, 0),
		WindowEnd:       monday(10, 0),
		DurationMinutes: 30,
	})
	require.NoError(t, err)
	assert.Len(t, slots, 2)
	for _, slot := range slots {
		assert.GreaterOrEqual(t, slot.ParticipantCount(), 1)
	}
}

func TestEngine_FindAvailableSlots_PolicyFilters(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{busy: map[string][]Interval{}}
	engine := NewEngine(provider, DefaultPolicy())

	saturday := time.Date(2024, time.March, 9, 9, 0, 0, 0, jst)
	slots, err := engine.FindAvailableSlots(context.Background(), Request{
		Participants:    []string{"a@example.com", "b@example.com"},
		WindowStart:     saturday,
		WindowEnd:       saturday.Add(48 * time.Hour),
		DurationMinutes: 60,
	})
	require.NoError(t, err)
	assert.Empty(t, slots, "weekend slots are excluded")

	slots, err = engine.FindAvailableSlots(context.Background(), Request{
		Participants:    []string{"a@example.com", "b@example.com"},
		WindowStart:     monday(7, 0),
		WindowEnd:       monday(20, 0),
		DurationMinutes: 60,
	})
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	for _, slot := range slots {
		assert.False(t, slot.Start.Before(monday(9, 0)))
		assert.False(t, slot.End.After(monday(18, 0)))
	}
	assert.Len(t, slots, 17)
}

func TestEngine_FindAvailableSlots_PreferredBonusAppliedOnce(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{busy: map[string][]Interval{}}
	engine := NewEngine(provider, DefaultPolicy())

	slots, err := engine.FindAvailableSlots(context.Background(), Request{
		Participants:    []string{"a@example.com", "b@example.com"},
		WindowStart:     monday(9, 0),
		WindowEnd:       monday(12, 0),
		DurationMinutes: 60,
		Preferred: []Interval{
			{Start: monday(10, 0), End: monday(11, 0)},
			{Start: monday(9, 30), End: monday(12, 0)},
			{Start: monday(10, 30), End: monday(11, 15)},
		},
	})
	require.NoError(t, err)
	require.Len(t, slots, 5)

	scores := map[string]int{}
	for _, slot := range slots {
		scores[slot.Start.Format("15:04")] = slot.Score
	}
	assert.Equal(t, 2, scores["09:00"], "partial overlap earns nothing")
	assert.Equal(t, 12, scores["09:30"])
	assert.Equal(t, 12, scores["10:00"], "bonus does not stack across windows")
	assert.Equal(t, 12, scores["11:00"])

	assert.True(t, slots[0].Start.Equal(monday(9, 30)))
	assert.True(t, slots[len(slots)-1].Start.Equal(monday(9, 0)))
}

func TestEngine_FindAvailableSlots_ValidationSkipsProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{
			name:  "empty participants",
			req:   Request{Participants: []string{" ", ""}, WindowStart: monday(9, 0), WindowEnd: monday(18, 0), DurationMinutes: 60},
			field: "participants",
		},
		{
			name:  "duration below minimum",
			req:   Request{Participants: []string{"a@example.com"}, WindowStart: monday(9, 0), WindowEnd: monday(18, 0), DurationMinutes: 29},
			field: "duration",
		},
		{
			name:  "inverted window",
			req:   Request{Participants: []string{"a@example.com"}, WindowStart: monday(18, 0), WindowEnd: monday(9, 0), DurationMinutes: 30},
			field: "timeMax",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			provider := &stubProvider{}
			_, err := NewEngine(provider, DefaultPolicy()).FindAvailableSlots(context.Background(), tc.req)

			var rErr *RequestError
			require.True(t, errors.As(err, &rErr), "expected RequestError, got %v", err)
			assert.Contains(t, rErr.FieldErrors, tc.field)
			assert.EqualValues(t, 0, provider.calls.Load())
		})
	}
}

func TestEngine_FindAvailableSlots_ProviderFailures(t *testing.T) {
	t.Parallel()

	t.Run("error fails the whole search", func(t *testing.T) {
		t.Parallel()
		provider := &stubProvider{err: errors.New("boom")}
		_, err := NewEngine(provider, DefaultPolicy()).FindAvailableSlots(context.Background(), Request{
			Participants:    []string{"a@example.com", "b@example.com"},
			WindowStart:     monday(9, 0),
			WindowEnd:       monday(18, 0),
			DurationMinutes: 60,
		})
		var pErr *ProviderError
		require.True(t, errors.As(err, &pErr))
		assert.False(t, pErr.Timeout)
	})

	t.Run("timeout is reported", func(t *testing.T) {
		t.Parallel()
		provider := &stubProvider{delay: time.Second}
		policy := DefaultPolicy()
		policy.ProviderTimeout = 20 * time.Millisecond
		_, err := NewEngine(provider, policy).FindAvailableSlots(context.Background(), Request{
			Participants:    []string{"a@example.com", "b@example.com"},
			WindowStart:     monday(9, 0),
			WindowEnd:       monday(18, 0),
			DurationMinutes: 60,
		})
		var pErr *ProviderError
		require.True(t, errors.As(err, &pErr))
		assert.True(t, pErr.Timeout)
	})
}

func TestEngine_FindAvailableSlots_DeduplicatesParticipants(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{busy: map[string][]Interval{}}
	_, err := NewEngine(provider, DefaultPolicy()).FindAvailableSlots(context.Background(), Request{
		Participants:    []string{"a@example.com", " a@example.com", "b@example.com"},
		WindowStart:     monday(9, 0),
		WindowEnd:       monday(10, 0),
		DurationMinutes: 60,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, provider.keys)
}

func TestInterval_Overlaps(t *testing.T) {
	t.Parallel()

	slot := Interval{Start: monday(9, 0), End: monday(10, 0)}
	cases := []struct {
		name string
		busy Interval
		want bool
	}{
		{"busy starts at slot end", Interval{monday(10, 0), monday(11, 0)}, false},
		{"busy ends at slot start", Interval{monday(8, 0), monday(9, 0)}, false},
		{"busy inside slot", Interval{monday(9, 15), monday(9, 45)}, true},
		{"busy covers slot", Interval{monday(8, 0), monday(11, 0)}, true},
		{"busy straddles end", Interval{monday(9, 59), monday(10, 30)}, true},
	}
	for _, tc := range cases {
		if got := slot.Overlaps(tc.busy); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestParseClockTime(t *testing.T) {
	t.Parallel()

	got, err := ParseClockTime("09:30")
	require.NoError(t, err)
	assert.Equal(t, NewClockTime(9, 30), got)
	assert.Equal(t, "09:30", got.String())

	_, err = ParseClockTime("25:00")
	assert.Error(t, err)
	_, err = ParseClockTime("noon")
	assert.Error(t, err)
}
