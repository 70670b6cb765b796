package persistence

import "context"

// ParticipantRepository stores organization members.
type ParticipantRepository interface {
	CreateParticipant(ctx context.Context, participant Participant) error
	GetParticipant(ctx context.Context, id string) (Participant, error)
	ListParticipantsByContactKey(ctx context.Context, keys []string) ([]Participant, error)
}

// SessionRepository stores sessions and their participant universe.
type SessionRepository interface {
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	AddSessionParticipants(ctx context.Context, sessionID string, participantIDs []string, actorID string) ([]ChangeLogEntry, error)
	SessionLayout(ctx context.Context, sessionID string) (SessionLayout, error)
}

// MembershipStore is the single place where membership invariants are enforced.
// Every mutation runs in one transaction together with its change log entries.
type MembershipStore interface {
	MoveParticipant(ctx context.Context, req MoveRequest) (MoveResult, error)
	AssignMany(ctx context.Context, container ContainerRef, participantIDs []string, actorID string) (AssignResult, error)
	RemoveFromAllContainers(ctx context.Context, participantID, actorID string) (RemoveResult, error)
	DeleteContainer(ctx context.Context, container ContainerRef, actorID string) (DeleteResult, error)
	CreateContainer(ctx context.Context, spec ContainerSpec) (Container, ChangeLogEntry, error)
	UpdateContainer(ctx context.Context, patch ContainerPatch) (Container, ChangeLogEntry, error)
	GetContainer(ctx context.Context, ref ContainerRef) (Container, error)
	ContainerAdmins(ctx context.Context, ref ContainerRef) ([]string, error)
}

// ChangeLogRepository reads the append-only audit trail.
type ChangeLogRepository interface {
	QueryChangeLog(ctx context.Context, filter ChangeLogFilter) ([]ChangeLogEntry, error)
}
