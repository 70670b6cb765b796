package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/kiyo123456/Tatemoku-management/internal/application"
	"github.com/kiyo123456/Tatemoku-management/internal/calendar"
	"github.com/kiyo123456/Tatemoku-management/internal/recurrence"
	"github.com/kiyo123456/Tatemoku-management/internal/scheduler"
)

// DefaultTopSlots is how many ranked slots a search response carries.
const DefaultTopSlots = 5

type availabilityService interface {
	FindSlots(ctx context.Context, params application.FindSlotsParams) (application.FindSlotsResult, error)
}

// AvailabilityHandler serves slot searches.
type AvailabilityHandler struct {
	service            availabilityService
	responder          responder
	logger             *slog.Logger
	topN               int
	requireGoogleToken bool
}

// NewAvailabilityHandler constructs the handler. topN <= 0 uses DefaultTopSlots. When
// requireGoogleToken is set, requests without an X-Google-Token header are rejected.
func NewAvailabilityHandler(service availabilityService, topN int, requireGoogleToken bool, logger *slog.Logger) *AvailabilityHandler {
	if topN <= 0 {
		topN = DefaultTopSlots
	}
	base := defaultLogger(logger)
	return &AvailabilityHandler{
		service:            service,
		responder:          newResponder(base),
		logger:             base,
		topN:               topN,
		requireGoogleToken: requireGoogleToken,
	}
}

func (h *AvailabilityHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "AvailabilityHandler", operation, attrs...)
}

// Search handles POST /availability/search.
func (h *AvailabilityHandler) Search(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "Search", "principal_id", principal.UserID)

	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.ErrorContext(r.Context(), "failed to decode availability request", "error", err, "error_kind", "bad_request")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	ctx := r.Context()
	if token := strings.TrimSpace(r.Header.Get("X-Google-Token")); token != "" {
		ctx = calendar.ContextWithAccessToken(ctx, token)
	} else if h.requireGoogleToken {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errMissingGoogleToken)
		return
	}

	params, vErr := req.toParams(principal)
	if vErr != nil {
		h.responder.handleServiceError(ctx, w, vErr)
		return
	}

	result, err := h.service.FindSlots(ctx, params)
	if err != nil {
		logger.ErrorContext(ctx, "availability search failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	participants := countDistinct(params.ParticipantKeys)
	best := result.Slots
	if len(best) > h.topN {
		best = best[:h.topN]
	}
	slots := make([]slotDTO, 0, len(best))
	for _, slot := range best {
		slots = append(slots, toSlotDTO(slot, participants))
	}

	logger.With("slots", result.Total).InfoContext(ctx, "availability search completed")
	h.responder.writeJSON(ctx, w, http.StatusOK, availabilityResponse{
		Message: "空き時間の検索が完了しました。",
		Data: availabilityData{
			TotalSlotsFound: result.Total,
			BestSlots:       slots,
			SearchCriteria: searchCriteriaDTO{
				Duration:         params.DurationMinutes,
				ParticipantCount: participants,
				SearchPeriod:     searchPeriodDTO{From: req.TimeMin, To: req.TimeMax},
			},
		},
	})
}

type availabilityRequest struct {
	UserEmails        []string              `json:"userEmails"`
	TimeMin           string                `json:"timeMin"`
	TimeMax           string                `json:"timeMax"`
	Duration          int                   `json:"duration"`
	PreferredTimes    []timeRangeDTO        `json:"preferredTimes"`
	PreferredPatterns []preferredPatternDTO `json:"preferredPatterns"`
}

type timeRangeDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type preferredPatternDTO struct {
	Frequency string   `json:"frequency"`
	Weekdays  []string `json:"weekdays"`
	From      string   `json:"from"`
	To        string   `json:"to"`
}

func (req availabilityRequest) toParams(principal application.Principal) (application.FindSlotsParams, *application.ValidationError) {
	fields := map[string]string{}
	params := application.FindSlotsParams{
		Principal:       principal,
		ParticipantKeys: req.UserEmails,
		DurationMinutes: req.Duration,
	}

	params.WindowStart = parseOptionalTime(req.TimeMin, "timeMin", fields)
	params.WindowEnd = parseOptionalTime(req.TimeMax, "timeMax", fields)

	for i, window := range req.PreferredTimes {
		field := fmt.Sprintf("preferredTimes[%d]", i)
		start := parseRequiredTime(window.Start, field, fields)
		end := parseRequiredTime(window.End, field, fields)
		params.Preferred = append(params.Preferred, scheduler.Interval{Start: start, End: end})
	}

	for i, dto := range req.PreferredPatterns {
		field := fmt.Sprintf("preferredPatterns[%d]", i)
		pattern, err := dto.toPattern()
		if err != nil {
			fields[field] = err.Error()
			continue
		}
		params.PreferredPatterns = append(params.PreferredPatterns, pattern)
	}

	if len(fields) > 0 {
		return params, &application.ValidationError{FieldErrors: fields}
	}
	return params, nil
}

// parseOptionalTime leaves missing values zero so the engine reports them.
func parseOptionalTime(value, field string, fields map[string]string) time.Time {
	if strings.TrimSpace(value) == "" {
		return time.Time{}
	}
	return parseRequiredTime(value, field, fields)
}

func parseRequiredTime(value, field string, fields map[string]string) time.Time {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		fields[field] = "must be an RFC 3339 timestamp"
		return time.Time{}
	}
	return t
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func (dto preferredPatternDTO) toPattern() (recurrence.Pattern, error) {
	pattern := recurrence.Pattern{Frequency: recurrence.ParseFrequency(strings.ToLower(strings.TrimSpace(dto.Frequency)))}
	if pattern.Frequency == recurrence.FrequencyUnspecified {
		return pattern, recurrence.ErrInvalidFrequency
	}
	for _, name := range dto.Weekdays {
		day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return pattern, fmt.Errorf("unknown weekday %q", name)
		}
		pattern.Weekdays = append(pattern.Weekdays, day)
	}

	var err error
	if pattern.From, err = scheduler.ParseClockTime(dto.From); err != nil {
		return pattern, errors.New("from must be HH:MM")
	}
	if pattern.To, err = scheduler.ParseClockTime(dto.To); err != nil {
		return pattern, errors.New("to must be HH:MM")
	}
	return pattern, nil
}

func countDistinct(keys []string) int {
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			seen[trimmed] = struct{}{}
		}
	}
	return len(seen)
}

type availabilityResponse struct {
	Message string           `json:"message"`
	Data    availabilityData `json:"data"`
}

type availabilityData struct {
	TotalSlotsFound int               `json:"totalSlotsFound"`
	BestSlots       []slotDTO         `json:"bestSlots"`
	SearchCriteria  searchCriteriaDTO `json:"searchCriteria"`
}

type slotDTO struct {
	Start            string   `json:"start"`
	End              string   `json:"end"`
	AvailableMembers []string `json:"availableMembers"`
	ParticipantCount int      `json:"participantCount"`
	ParticipantRate  int      `json:"participantRate"`
	Score            int      `json:"score"`
}

type searchCriteriaDTO struct {
	Duration         int             `json:"duration"`
	ParticipantCount int             `json:"participantCount"`
	SearchPeriod     searchPeriodDTO `json:"searchPeriod"`
}

type searchPeriodDTO struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func toSlotDTO(slot scheduler.CandidateSlot, participants int) slotDTO {
	rate := 0
	if participants > 0 {
		rate = int(math.Round(float64(slot.ParticipantCount()) * 100 / float64(participants)))
	}
	members := slot.Available
	if members == nil {
		members = []string{}
	}
	return slotDTO{
		Start:            slot.Start.UTC().Format(time.RFC3339),
		End:              slot.End.UTC().Format(time.RFC3339),
		AvailableMembers: members,
		ParticipantCount: slot.ParticipantCount(),
		ParticipantRate:  rate,
		Score:            slot.Score,
	}
}
