package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConstraintViolation is returned when a CHECK or NOT NULL constraint rejects a write.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrForeignKeyViolation is returned when a referenced row is missing.
	ErrForeignKeyViolation = errors.New("persistence: foreign key violation")
	// ErrInvalidMove is returned for moves with no effect or mismatched container kinds.
	ErrInvalidMove = errors.New("persistence: invalid move")
)

// NotFoundError names the missing record.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("persistence: %s %q not found", e.Entity, e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InvalidMoveError explains why a move request was rejected before touching storage.
type InvalidMoveError struct {
	Reason string
}

func (e *InvalidMoveError) Error() string {
	return "persistence: invalid move: " + e.Reason
}

// Is lets errors.Is(err, ErrInvalidMove) match.
func (e *InvalidMoveError) Is(target error) bool {
	return target == ErrInvalidMove
}

// VersionConflictError reports an optimistic locking failure.
type VersionConflictError struct {
	Ref      ContainerRef
	Expected int64
	Current  int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("persistence: %s %s is at version %d, expected %d", e.Ref.Kind, e.Ref.ID, e.Current, e.Expected)
}

// CapacityConflictError reports a full destination.
type CapacityConflictError struct {
	Ref      ContainerRef
	Capacity int
	Members  int
	Version  int64
}

func (e *CapacityConflictError) Error() string {
	return fmt.Sprintf("persistence: %s %s is full (%d/%d)", e.Ref.Kind, e.Ref.ID, e.Members, e.Capacity)
}

// InvariantViolationError reports a write that would break the membership partition.
type InvariantViolationError struct {
	ParticipantID string
	Reason        string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("persistence: participant %s: %s", e.ParticipantID, e.Reason)
}
