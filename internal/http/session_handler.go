package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kiyo123456/Tatemoku-management/internal/application"
	"github.com/kiyo123456/Tatemoku-management/internal/persistence"
)

type sessionService interface {
	CreateSession(ctx context.Context, params application.CreateSessionParams) (persistence.Session, error)
	AddSessionParticipants(ctx context.Context, principal application.Principal, sessionID string, participantIDs []string) (int, error)
	SessionLayout(ctx context.Context, principal application.Principal, sessionID string) (persistence.SessionLayout, error)
}

// SessionHandler serves tatemoku sessions and their layouts.
type SessionHandler struct {
	service   sessionService
	responder responder
	logger    *slog.Logger
}

func NewSessionHandler(service sessionService, logger *slog.Logger) *SessionHandler {
	base := defaultLogger(logger)
	return &SessionHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *SessionHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "SessionHandler", operation, attrs...)
}

type createSessionRequest struct {
	Title           string   `json:"title"`
	DefaultCapacity int      `json:"defaultCapacity"`
	ParticipantIDs  []string `json:"participantIds"`
}

// Create handles POST /sessions.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "Create", "principal_id", principal.UserID)

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.ErrorContext(r.Context(), "failed to decode session request", "error", err, "error_kind", "bad_request")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	session, err := h.service.CreateSession(r.Context(), application.CreateSessionParams{
		Principal:       principal,
		Title:           req.Title,
		DefaultCapacity: req.DefaultCapacity,
		ParticipantIDs:  req.ParticipantIDs,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "session creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("session_id", session.ID).InfoContext(r.Context(), "session created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toSessionDTO(session))
}

type addParticipantsRequest struct {
	ParticipantIDs []string `json:"participantIds"`
}

// AddParticipants handles POST /sessions/{id}/participants.
func (h *SessionHandler) AddParticipants(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	sessionID := strings.TrimSpace(chi.URLParam(r, "id"))
	logger := h.log(r.Context(), "AddParticipants", "principal_id", principal.UserID, "session_id", sessionID)

	var req addParticipantsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.ErrorContext(r.Context(), "failed to decode participants request", "error", err, "error_kind", "bad_request")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	added, err := h.service.AddSessionParticipants(r.Context(), principal, sessionID, req.ParticipantIDs)
	if err != nil {
		logger.ErrorContext(r.Context(), "adding session participants failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, map[string]int{"addedCount": added})
}

type layoutResponse struct {
	Session    sessionDTO     `json:"session"`
	Unassigned []string       `json:"unassigned"`
	Groups     []containerDTO `json:"groups"`
}

// Layout handles GET /sessions/{id}/layout.
func (h *SessionHandler) Layout(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	sessionID := strings.TrimSpace(chi.URLParam(r, "id"))

	layout, err := h.service.SessionLayout(r.Context(), principal, sessionID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	groups := make([]containerDTO, 0, len(layout.Groups))
	for _, g := range layout.Groups {
		groups = append(groups, toContainerDTO(g))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, layoutResponse{
		Session:    toSessionDTO(layout.Session),
		Unassigned: nonNil(layout.Unassigned),
		Groups:     groups,
	})
}
