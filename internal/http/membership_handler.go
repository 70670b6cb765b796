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

type membershipService interface {
	MoveParticipant(ctx context.Context, params application.MoveParticipantParams) (persistence.MoveResult, error)
	AssignMany(ctx context.Context, params application.AssignParams) (persistence.AssignResult, error)
	RemoveFromAllContainers(ctx context.Context, principal application.Principal, participantID string) (int, error)
	RegisterParticipant(ctx context.Context, params application.RegisterParticipantParams) (persistence.Participant, error)
}

// MembershipHandler serves participant moves, bulk assignment and participant registration.
type MembershipHandler struct {
	service   membershipService
	responder responder
	logger    *slog.Logger
}

func NewMembershipHandler(service membershipService, logger *slog.Logger) *MembershipHandler {
	base := defaultLogger(logger)
	return &MembershipHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *MembershipHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "MembershipHandler", operation, attrs...)
}

type moveRequest struct {
	MemberID string                    `json:"memberId"`
	From     *persistence.ContainerRef `json:"from"`
	To       *persistence.ContainerRef `json:"to"`
	Version  *int64                    `json:"version"`
}

type moveResponse struct {
	Success    bool              `json:"success"`
	NewVersion int64             `json:"newVersion"`
	Versions   map[string]int64  `json:"versions,omitempty"`
	Entry      changeLogEntryDTO `json:"entry"`
}

// Move handles POST /memberships/moves.
func (h *MembershipHandler) Move(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Move", "principal_id", principal.UserID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode move request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Move", "principal_id", principal.UserID, "participant_id", req.MemberID)

	result, err := h.service.MoveParticipant(r.Context(), application.MoveParticipantParams{
		Principal:       principal,
		ParticipantID:   req.MemberID,
		From:            req.From,
		To:              req.To,
		ExpectedVersion: req.Version,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "move failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("new_version", result.NewVersion).InfoContext(r.Context(), "participant moved")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, moveResponse{
		Success:    true,
		NewVersion: result.NewVersion,
		Versions:   result.Versions,
		Entry:      toChangeLogEntryDTO(result.Entry),
	})
}

type assignRequest struct {
	ParticipantIDs []string `json:"participantIds"`
}

type assignResponse struct {
	Added      []string            `json:"added"`
	Moved      []string            `json:"moved"`
	Unchanged  []string            `json:"unchanged"`
	NewVersion int64               `json:"newVersion"`
	Entries    []changeLogEntryDTO `json:"entries"`
}

// Assign handles PUT /containers/{kind}/{id}/members.
func (h *MembershipHandler) Assign(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	ref := containerRefFromPath(r)
	logger := h.log(r.Context(), "Assign", "principal_id", principal.UserID, "container_kind", ref.Kind, "container_id", ref.ID)

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.ErrorContext(r.Context(), "failed to decode assign request", "error", err, "error_kind", "bad_request")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	result, err := h.service.AssignMany(r.Context(), application.AssignParams{
		Principal:      principal,
		Container:      ref,
		ParticipantIDs: req.ParticipantIDs,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "assignment failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "participants assigned", "added", len(result.Added), "moved", len(result.Moved))
	h.responder.writeJSON(r.Context(), w, http.StatusOK, assignResponse{
		Added:      nonNil(result.Added),
		Moved:      nonNil(result.Moved),
		Unchanged:  nonNil(result.Unchanged),
		NewVersion: result.NewVersion,
		Entries:    toChangeLogEntryDTOs(result.Entries),
	})
}

// RemoveFromAll handles DELETE /participants/{id}/memberships.
func (h *MembershipHandler) RemoveFromAll(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	participantID := strings.TrimSpace(chi.URLParam(r, "id"))
	logger := h.log(r.Context(), "RemoveFromAll", "principal_id", principal.UserID, "participant_id", participantID)

	removed, err := h.service.RemoveFromAllContainers(r.Context(), principal, participantID)
	if err != nil {
		logger.ErrorContext(r.Context(), "remove from all containers failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("removed", removed).InfoContext(r.Context(), "participant removed from all containers")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, map[string]int{"removedCount": removed})
}

type registerParticipantRequest struct {
	DisplayName string `json:"displayName"`
	ContactKey  string `json:"contactKey"`
	Role        string `json:"role"`
}

// RegisterParticipant handles POST /participants.
func (h *MembershipHandler) RegisterParticipant(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "RegisterParticipant", "principal_id", principal.UserID)

	var req registerParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.ErrorContext(r.Context(), "failed to decode participant request", "error", err, "error_kind", "bad_request")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	participant, err := h.service.RegisterParticipant(r.Context(), application.RegisterParticipantParams{
		Principal:   principal,
		DisplayName: req.DisplayName,
		ContactKey:  req.ContactKey,
		Role:        req.Role,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "participant registration failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("participant_id", participant.ID).InfoContext(r.Context(), "participant registered")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toParticipantDTO(participant))
}

func containerRefFromPath(r *http.Request) persistence.ContainerRef {
	return persistence.ContainerRef{
		Kind: persistence.ContainerKind(strings.TrimSpace(chi.URLParam(r, "kind"))),
		ID:   strings.TrimSpace(chi.URLParam(r, "id")),
	}
}
