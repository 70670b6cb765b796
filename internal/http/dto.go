package http

import (
	"encoding/json"
	"time"

	"github.com/kiyo123456/Tatemoku-management/internal/persistence"
)

type containerDTO struct {
	Kind        persistence.ContainerKind `json:"kind"`
	ID          string                    `json:"id"`
	Name        string                    `json:"name"`
	ParentID    string                    `json:"parentId,omitempty"`
	GroupNumber int                       `json:"groupNumber,omitempty"`
	Capacity    *int                      `json:"capacity,omitempty"`
	AdminID     *string                   `json:"adminId,omitempty"`
	Version     int64                     `json:"version"`
	MemberIDs   []string                  `json:"memberIds"`
	CreatedAt   time.Time                 `json:"createdAt"`
	UpdatedAt   time.Time                 `json:"updatedAt"`
}

func toContainerDTO(c persistence.Container) containerDTO {
	members := c.MemberIDs
	if members == nil {
		members = []string{}
	}
	return containerDTO{
		Kind:        c.Kind,
		ID:          c.ID,
		Name:        c.Name,
		ParentID:    c.ParentID,
		GroupNumber: c.GroupNumber,
		Capacity:    c.Capacity,
		AdminID:     c.AdminID,
		Version:     c.Version,
		MemberIDs:   members,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

type changeLogEntryDTO struct {
	ID            string                    `json:"id"`
	Action        persistence.ChangeAction  `json:"action"`
	ParticipantID *string                   `json:"participantId"`
	From          *persistence.ContainerRef `json:"from"`
	To            *persistence.ContainerRef `json:"to"`
	ActorID       string                    `json:"actorId"`
	Details       json.RawMessage           `json:"details,omitempty"`
	CreatedAt     time.Time                 `json:"createdAt"`
}

func toChangeLogEntryDTO(e persistence.ChangeLogEntry) changeLogEntryDTO {
	return changeLogEntryDTO{
		ID:            e.ID,
		Action:        e.Action,
		ParticipantID: e.ParticipantID,
		From:          e.From,
		To:            e.To,
		ActorID:       e.ActorID,
		Details:       e.Details,
		CreatedAt:     e.CreatedAt,
	}
}

func toChangeLogEntryDTOs(entries []persistence.ChangeLogEntry) []changeLogEntryDTO {
	dtos := make([]changeLogEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toChangeLogEntryDTO(e))
	}
	return dtos
}

type participantDTO struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	ContactKey  string    `json:"contactKey"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toParticipantDTO(p persistence.Participant) participantDTO {
	return participantDTO{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		ContactKey:  p.ContactKey,
		Role:        p.Role,
		CreatedAt:   p.CreatedAt,
	}
}

type sessionDTO struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	DefaultCapacity int       `json:"defaultCapacity"`
	CreatedBy       string    `json:"createdBy"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func toSessionDTO(s persistence.Session) sessionDTO {
	return sessionDTO{
		ID:              s.ID,
		Title:           s.Title,
		DefaultCapacity: s.DefaultCapacity,
		CreatedBy:       s.CreatedBy,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
