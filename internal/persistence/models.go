package persistence

import (
	"encoding/json"
	"time"
)

// ContainerKind distinguishes the membership containers.
type ContainerKind string

const (
	// KindGroup is an organization-wide group.
	KindGroup ContainerKind = "group"
	// KindSubgroup is a subdivision of a group.
	KindSubgroup ContainerKind = "subgroup"
	// KindSessionGroup is a sub-team inside one scheduled session.
	KindSessionGroup ContainerKind = "session_group"
	// KindUnassigned is the sentinel for "no container": a session's unassigned pool, or
	// simply detached for groups and subgroups.
	KindUnassigned ContainerKind = "unassigned"
)

// Valid reports whether k names a real container kind (not the sentinel).
func (k ContainerKind) Valid() bool {
	switch k {
	case KindGroup, KindSubgroup, KindSessionGroup:
		return true
	}
	return false
}

// ContainerRef addresses a container, or the unassigned sentinel.
type ContainerRef struct {
	Kind ContainerKind `json:"kind"`
	ID   string        `json:"id"`
}

// UnassignedPool returns the sentinel reference for a session's pool. The session ID may be
// empty for group and subgroup moves, where "unassigned" means detached.
func UnassignedPool(sessionID string) ContainerRef {
	return ContainerRef{Kind: KindUnassigned, ID: sessionID}
}

// IsUnassigned reports whether the reference is the pool sentinel.
func (r ContainerRef) IsUnassigned() bool {
	return r.Kind == KindUnassigned
}

// Participant is a member of the organization.
type Participant struct {
	ID          string
	DisplayName string
	ContactKey  string
	Role        string
	CreatedAt   time.Time
}

// Container is the common shape of groups, subgroups and session groups.
type Container struct {
	Kind        ContainerKind
	ID          string
	Name        string
	ParentID    string // parent group for subgroups, session for session groups
	GroupNumber int
	Capacity    *int
	AdminID     *string
	Version     int64
	MemberIDs   []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Ref returns the container's reference.
func (c Container) Ref() ContainerRef {
	return ContainerRef{Kind: c.Kind, ID: c.ID}
}

// Session is a scheduled tatemoku session whose participants are partitioned into groups.
type Session struct {
	ID              string
	Title           string
	DefaultCapacity int
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SessionLayout is the partition of a session's participants.
type SessionLayout struct {
	Session    Session
	Unassigned []string
	Groups     []Container
}

// ChangeAction names the kind of mutation recorded in the change log.
type ChangeAction string

const (
	ActionMoveParticipant   ChangeAction = "move_participant"
	ActionAddParticipant    ChangeAction = "add_participant"
	ActionRemoveParticipant ChangeAction = "remove_participant"
	ActionCreateGroup       ChangeAction = "create_group"
	ActionUpdateGroup       ChangeAction = "update_group"
)

// ChangeLogEntry is an immutable audit record of one membership mutation.
type ChangeLogEntry struct {
	ID            string
	Action        ChangeAction
	ParticipantID *string
	From          *ContainerRef
	To            *ContainerRef
	ActorID       string
	Details       json.RawMessage
	CreatedAt     time.Time
}

// ChangeLogFilter narrows change log queries. Zero values mean "any".
type ChangeLogFilter struct {
	ParticipantID string
	ContainerID   string
	ActorID       string
	Actions       []ChangeAction
	Since         *time.Time
	Until         *time.Time
	Limit         int
	Offset        int
}

// MoveRequest describes a single participant move. Nil From/To means the unassigned pool.
type MoveRequest struct {
	ParticipantID   string
	From            *ContainerRef
	To              *ContainerRef
	ExpectedVersion *int64
	ActorID         string
}

// MoveResult reports the outcome of a committed move.
type MoveResult struct {
	// NewVersion is the version of the container the expected version was checked against.
	NewVersion int64
	Versions   map[string]int64
	Entry      ChangeLogEntry
}

// AssignResult reports the outcome of a bulk assignment.
type AssignResult struct {
	Added      []string
	Moved      []string
	Unchanged  []string
	NewVersion int64
	Entries    []ChangeLogEntry
}

// RemoveResult reports the edges detached from one participant.
type RemoveResult struct {
	Removed int
	Entries []ChangeLogEntry
}

// DeleteResult reports a container deletion.
type DeleteResult struct {
	Detached []string
	Entries  []ChangeLogEntry
}

// ContainerSpec describes a container to create.
type ContainerSpec struct {
	Kind     ContainerKind
	Name     string
	ParentID string
	Capacity *int
	AdminID  *string
	ActorID  string
}

// ContainerPatch describes attribute changes to an existing container.
type ContainerPatch struct {
	Ref             ContainerRef
	Name            *string
	Capacity        *int
	ClearCapacity   bool
	AdminID         *string
	ExpectedVersion *int64
	ActorID         string
}
