package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kiyo123456/Tatemoku-management/internal/recurrence"
	"github.com/kiyo123456/Tatemoku-management/internal/scheduler"
)

// SlotFinder ranks candidate meeting slots.
type SlotFinder interface {
	FindAvailableSlots(ctx context.Context, req scheduler.Request) ([]scheduler.CandidateSlot, error)
}

// AvailabilityService wraps the slot search engine with recurring preferred times, error
// translation and logging.
type AvailabilityService struct {
	finder   SlotFinder
	patterns *recurrence.Engine
	logger   *slog.Logger
}

// NewAvailabilityService constructs an availability service. Recurring preferred patterns
// are interpreted by patterns; a nil engine uses Asia/Tokyo.
func NewAvailabilityService(finder SlotFinder, patterns *recurrence.Engine) *AvailabilityService {
	return NewAvailabilityServiceWithLogger(finder, patterns, nil)
}

// NewAvailabilityServiceWithLogger constructs an availability service with a specified logger.
func NewAvailabilityServiceWithLogger(finder SlotFinder, patterns *recurrence.Engine, logger *slog.Logger) *AvailabilityService {
	if patterns == nil {
		patterns = recurrence.NewEngine(nil)
	}
	return &AvailabilityService{finder: finder, patterns: patterns, logger: defaultLogger(logger)}
}

// FindSlots searches for meeting slots. Every ranked slot is returned; presentation
// layers decide how many to show.
func (s *AvailabilityService) FindSlots(ctx context.Context, params FindSlotsParams) (result FindSlotsResult, err error) {
	if s == nil || s.finder == nil {
		err = fmt.Errorf("AvailabilityService is not configured")
		return
	}

	logger := serviceLogger(ctx, s.logger, "AvailabilityService", "FindSlots",
		"principal_id", params.Principal.UserID,
		"participants", len(params.ParticipantKeys),
		"duration_minutes", params.DurationMinutes,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to find slots", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("slots", result.Total).InfoContext(ctx, "slots found")
	}()

	preferred := append([]scheduler.Interval(nil), params.Preferred...)
	if len(params.PreferredPatterns) > 0 && params.WindowStart.Before(params.WindowEnd) {
		vErr := &ValidationError{}
		for i, pattern := range params.PreferredPatterns {
			windows, expandErr := s.patterns.Expand(pattern, params.WindowStart, params.WindowEnd)
			if expandErr != nil {
				vErr.add(fmt.Sprintf("preferredPatterns[%d]", i), expandErr.Error())
				continue
			}
			preferred = append(preferred, windows...)
		}
		if vErr.HasErrors() {
			err = vErr
			return
		}
	}

	var slots []scheduler.CandidateSlot
	slots, err = s.finder.FindAvailableSlots(ctx, scheduler.Request{
		Participants:    params.ParticipantKeys,
		WindowStart:     params.WindowStart,
		WindowEnd:       params.WindowEnd,
		DurationMinutes: params.DurationMinutes,
		Preferred:       preferred,
	})
	if err != nil {
		err = mapSearchError(err)
		return
	}

	result = FindSlotsResult{Slots: slots, Total: len(slots)}
	return
}

func mapSearchError(err error) error {
	var (
		reqErr      *scheduler.RequestError
		providerErr *scheduler.ProviderError
	)
	switch {
	case errors.As(err, &reqErr):
		vErr := &ValidationError{}
		vErr.merge(&ValidationError{FieldErrors: reqErr.FieldErrors})
		return vErr
	case errors.As(err, &providerErr):
		return &DependencyError{Dependency: "calendar", Retryable: true, Err: providerErr}
	}
	return err
}
