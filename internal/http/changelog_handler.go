package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kiyo123456/Tatemoku-management/internal/application"
	"github.com/kiyo123456/Tatemoku-management/internal/persistence"
)

type changeLogService interface {
	QueryChangeLog(ctx context.Context, query application.ChangeLogQuery) ([]persistence.ChangeLogEntry, error)
}

// ChangeLogHandler serves the membership audit trail.
type ChangeLogHandler struct {
	service   changeLogService
	responder responder
	logger    *slog.Logger
}

func NewChangeLogHandler(service changeLogService, logger *slog.Logger) *ChangeLogHandler {
	base := defaultLogger(logger)
	return &ChangeLogHandler{service: service, responder: newResponder(base), logger: base}
}

// List handles GET /changelog.
func (h *ChangeLogHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	filter, err := parseChangeLogFilter(r)
	if err != nil {
		handlerLogger(r.Context(), h.logger, "ChangeLogHandler", "List", "principal_id", principal.UserID, "error_kind", "bad_request").
			WarnContext(r.Context(), "invalid change log query", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidQuery)
		return
	}

	entries, err := h.service.QueryChangeLog(r.Context(), application.ChangeLogQuery{Principal: principal, Filter: filter})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"entries": toChangeLogEntryDTOs(entries),
	})
}

func parseChangeLogFilter(r *http.Request) (persistence.ChangeLogFilter, error) {
	q := r.URL.Query()
	filter := persistence.ChangeLogFilter{
		ParticipantID: strings.TrimSpace(q.Get("participant")),
		ContainerID:   strings.TrimSpace(q.Get("container")),
		ActorID:       strings.TrimSpace(q.Get("actor")),
	}

	for _, raw := range q["action"] {
		for _, action := range strings.Split(raw, ",") {
			if action = strings.TrimSpace(action); action != "" {
				filter.Actions = append(filter.Actions, persistence.ChangeAction(action))
			}
		}
	}

	var err error
	if filter.Since, err = parseTimeParam(q.Get("since")); err != nil {
		return filter, err
	}
	if filter.Until, err = parseTimeParam(q.Get("until")); err != nil {
		return filter, err
	}
	if filter.Limit, err = parseIntParam(q.Get("limit")); err != nil {
		return filter, err
	}
	if filter.Offset, err = parseIntParam(q.Get("offset")); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseTimeParam(value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseIntParam(value string) (int, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	return strconv.Atoi(strings.TrimSpace(value))
}
