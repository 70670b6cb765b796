package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kiyo123456/Tatemoku-management/internal/application"
	"github.com/kiyo123456/Tatemoku-management/internal/persistence"
)

type containerService interface {
	CreateContainer(ctx context.Context, params application.CreateContainerParams) (persistence.Container, error)
	UpdateContainer(ctx context.Context, params application.UpdateContainerParams) (persistence.Container, error)
	DeleteContainer(ctx context.Context, principal application.Principal, ref persistence.ContainerRef) (persistence.DeleteResult, error)
	GetContainer(ctx context.Context, principal application.Principal, ref persistence.ContainerRef) (persistence.Container, error)
}

// ContainerHandler serves group, subgroup and session group resources.
type ContainerHandler struct {
	service   containerService
	responder responder
	logger    *slog.Logger
}

func NewContainerHandler(service containerService, logger *slog.Logger) *ContainerHandler {
	base := defaultLogger(logger)
	return &ContainerHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *ContainerHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "ContainerHandler", operation, attrs...)
}

type createContainerRequest struct {
	Kind     persistence.ContainerKind `json:"kind"`
	Name     string                    `json:"name"`
	ParentID string                    `json:"parentId"`
	Capacity *int                      `json:"capacity"`
	AdminID  *string                   `json:"adminId"`
}

// Create handles POST /containers.
func (h *ContainerHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req createContainerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Create", "principal_id", principal.UserID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode container request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Create", "principal_id", principal.UserID, "container_kind", req.Kind)

	container, err := h.service.CreateContainer(r.Context(), application.CreateContainerParams{
		Principal: principal,
		Kind:      req.Kind,
		Name:      req.Name,
		ParentID:  req.ParentID,
		Capacity:  req.Capacity,
		AdminID:   req.AdminID,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "container creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("container_id", container.ID).InfoContext(r.Context(), "container created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toContainerDTO(container))
}

// Get handles GET /containers/{kind}/{id}.
func (h *ContainerHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	ref := containerRefFromPath(r)

	container, err := h.service.GetContainer(r.Context(), principal, ref)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toContainerDTO(container))
}

type updateContainerRequest struct {
	Name          *string `json:"name"`
	Capacity      *int    `json:"capacity"`
	ClearCapacity bool    `json:"clearCapacity"`
	AdminID       *string `json:"adminId"`
	Version       *int64  `json:"version"`
}

// Update handles PATCH /containers/{kind}/{id}.
func (h *ContainerHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	ref := containerRefFromPath(r)
	logger := h.log(r.Context(), "Update", "principal_id", principal.UserID, "container_kind", ref.Kind, "container_id", ref.ID)

	var req updateContainerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.ErrorContext(r.Context(), "failed to decode container update", "error", err, "error_kind", "bad_request")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	container, err := h.service.UpdateContainer(r.Context(), application.UpdateContainerParams{
		Principal:       principal,
		Container:       ref,
		Name:            req.Name,
		Capacity:        req.Capacity,
		ClearCapacity:   req.ClearCapacity,
		AdminID:         req.AdminID,
		ExpectedVersion: req.Version,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "container update failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("version", container.Version).InfoContext(r.Context(), "container updated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toContainerDTO(container))
}

type deleteContainerResponse struct {
	Detached []string            `json:"detached"`
	Entries  []changeLogEntryDTO `json:"entries"`
}

// Delete handles DELETE /containers/{kind}/{id}.
func (h *ContainerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	ref := containerRefFromPath(r)
	logger := h.log(r.Context(), "Delete", "principal_id", principal.UserID, "container_kind", ref.Kind, "container_id", ref.ID)

	result, err := h.service.DeleteContainer(r.Context(), principal, ref)
	if err != nil {
		logger.ErrorContext(r.Context(), "container deletion failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("detached", len(result.Detached)).InfoContext(r.Context(), "container deleted")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, deleteContainerResponse{
		Detached: nonNil(result.Detached),
		Entries:  toChangeLogEntryDTOs(result.Entries),
	})
}
