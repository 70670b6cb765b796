package application

import (
	"errors"
	"fmt"

	"github.com/kiyo123456/Tatemoku-management/internal/persistence"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

// ConflictReason distinguishes the kinds of conflicting writes.
type ConflictReason string

const (
	ConflictVersion   ConflictReason = "version"
	ConflictCapacity  ConflictReason = "capacity"
	ConflictDuplicate ConflictReason = "duplicate"
)

// ConflictError reports a write rejected because the stored state moved on or is full.
// Clients should refresh and retry.
type ConflictError struct {
	Reason          ConflictReason
	Container       persistence.ContainerRef
	ExpectedVersion int64
	CurrentVersion  int64
	Capacity        int
	Members         int
}

func (e *ConflictError) Error() string {
	switch e.Reason {
	case ConflictVersion:
		return fmt.Sprintf("application: %s %s changed (version %d, expected %d)", e.Container.Kind, e.Container.ID, e.CurrentVersion, e.ExpectedVersion)
	case ConflictCapacity:
		return fmt.Sprintf("application: %s %s is full (%d/%d)", e.Container.Kind, e.Container.ID, e.Members, e.Capacity)
	}
	return "application: conflicting record already exists"
}

// DependencyError reports a failed call to an external dependency.
type DependencyError struct {
	Dependency string
	Retryable  bool
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("application: %s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// InvariantViolationError reports a request that would break the membership partition,
// for example a stated source that does not match where the participant actually is.
type InvariantViolationError struct {
	ParticipantID string
	Reason        string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("application: participant %s: %s", e.ParticipantID, e.Reason)
}

// mapStoreError translates persistence errors into the application taxonomy.
func mapStoreError(err error) error {
	if err == nil {
		return nil
	}

	var (
		version   *persistence.VersionConflictError
		capacity  *persistence.CapacityConflictError
		invariant *persistence.InvariantViolationError
		invalid   *persistence.InvalidMoveError
	)
	switch {
	case errors.As(err, &version):
		return &ConflictError{Reason: ConflictVersion, Container: version.Ref, ExpectedVersion: version.Expected, CurrentVersion: version.Current}
	case errors.As(err, &capacity):
		return &ConflictError{Reason: ConflictCapacity, Container: capacity.Ref, CurrentVersion: capacity.Version, Capacity: capacity.Capacity, Members: capacity.Members}
	case errors.As(err, &invariant):
		return &InvariantViolationError{ParticipantID: invariant.ParticipantID, Reason: invariant.Reason}
	case errors.As(err, &invalid):
		vErr := &ValidationError{}
		vErr.add("move", invalid.Reason)
		return vErr
	case errors.Is(err, persistence.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, persistence.ErrDuplicate):
		return &ConflictError{Reason: ConflictDuplicate}
	case errors.Is(err, persistence.ErrConstraintViolation), errors.Is(err, persistence.ErrForeignKeyViolation):
		vErr := &ValidationError{}
		vErr.add("request", "request violates a storage constraint")
		return vErr
	}
	return err
}
