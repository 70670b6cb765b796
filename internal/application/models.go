package application

import (
	"time"

	"github.com/kiyo123456/Tatemoku-management/internal/persistence"
	"github.com/kiyo123456/Tatemoku-management/internal/recurrence"
	"github.com/kiyo123456/Tatemoku-management/internal/scheduler"
)

// Principal is the authenticated caller as established by the transport layer.
type Principal struct {
	UserID       string
	IsAdmin      bool
	IsSuperAdmin bool
}

// MoveParticipantParams describes a single participant move. Nil From/To is the unassigned pool.
type MoveParticipantParams struct {
	Principal       Principal
	ParticipantID   string
	From            *persistence.ContainerRef
	To              *persistence.ContainerRef
	ExpectedVersion *int64
}

// AssignParams describes a bulk assignment into one container.
type AssignParams struct {
	Principal      Principal
	Container      persistence.ContainerRef
	ParticipantIDs []string
}

// CreateContainerParams describes a new group, subgroup or session group.
type CreateContainerParams struct {
	Principal Principal
	Kind      persistence.ContainerKind
	Name      string
	ParentID  string
	Capacity  *int
	AdminID   *string
}

// UpdateContainerParams describes attribute changes to a container.
type UpdateContainerParams struct {
	Principal       Principal
	Container       persistence.ContainerRef
	Name            *string
	Capacity        *int
	ClearCapacity   bool
	AdminID         *string
	ExpectedVersion *int64
}

// CreateSessionParams describes a new session and its initial participants.
type CreateSessionParams struct {
	Principal       Principal
	Title           string
	DefaultCapacity int
	ParticipantIDs  []string
}

// RegisterParticipantParams describes a new organization member.
type RegisterParticipantParams struct {
	Principal   Principal
	DisplayName string
	ContactKey  string
	Role        string
}

// ChangeLogQuery narrows a change log read.
type ChangeLogQuery struct {
	Principal Principal
	Filter    persistence.ChangeLogFilter
}

// FindSlotsParams describes an availability search.
type FindSlotsParams struct {
	Principal         Principal
	ParticipantKeys   []string
	WindowStart       time.Time
	WindowEnd         time.Time
	DurationMinutes   int
	Preferred         []scheduler.Interval
	PreferredPatterns []recurrence.Pattern
}

// FindSlotsResult carries every ranked slot; callers decide how many to present.
type FindSlotsResult struct {
	Slots []scheduler.CandidateSlot
	Total int
}
