package application

import (
	"errors"
	"fmt"
	"testing"

	"github.com/kiyo123456/Tatemoku-management/internal/persistence"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	var err *ValidationError
	if err.Error() != "" {
		t.Fatalf("expected empty string for nil error, got %q", err.Error())
	}

	empty := &ValidationError{}
	if got := empty.Error(); got != "validation failed" {
		t.Fatalf("expected generic message for empty error, got %q", got)
	}

	withFields := &ValidationError{FieldErrors: map[string]string{"field": "invalid"}}
	if got := withFields.Error(); got != "validation failed" {
		t.Fatalf("expected consistent message for populated error, got %q", got)
	}
}

func TestValidationError_HasErrors(t *testing.T) {
	t.Parallel()

	if err := (&ValidationError{}).HasErrors(); err {
		t.Fatalf("expected HasErrors to report false for empty error")
	}

	if err := (&ValidationError{FieldErrors: map[string]string{"field": "bad"}}).HasErrors(); !err {
		t.Fatalf("expected HasErrors to report true when fields are present")
	}
}

func TestValidationError_AddAndMerge(t *testing.T) {
	t.Parallel()

	base := &ValidationError{}
	base.add("first", "value")
	if got := base.FieldErrors["first"]; got != "value" {
		t.Fatalf("expected add to populate map, got %q", got)
	}

	other := &ValidationError{FieldErrors: map[string]string{"second": "another"}}
	base.merge(other)
	if got := base.FieldErrors["second"]; got != "another" {
		t.Fatalf("expected merge to copy field, got %q", got)
	}

	base.merge(nil)
	if len(base.FieldErrors) != 2 {
		t.Fatalf("expected merge with nil to leave fields unchanged")
	}
}

func TestMapStoreError(t *testing.T) {
	t.Parallel()

	ref := persistence.ContainerRef{Kind: persistence.KindSessionGroup, ID: "sg-1"}

	tests := []struct {
		name     string
		in       error
		wantKind string
		check    func(t *testing.T, err error)
	}{
		{
			name:     "version conflict",
			in:       &persistence.VersionConflictError{Ref: ref, Expected: 2, Current: 3},
			wantKind: "version_conflict",
			check: func(t *testing.T, err error) {
				var conflict *ConflictError
				if !errors.As(err, &conflict) || conflict.CurrentVersion != 3 || conflict.ExpectedVersion != 2 || conflict.Container != ref {
					t.Fatalf("unexpected conflict %#v", err)
				}
			},
		},
		{
			name:     "capacity conflict",
			in:       &persistence.CapacityConflictError{Ref: ref, Capacity: 6, Members: 6, Version: 4},
			wantKind: "capacity_conflict",
			check: func(t *testing.T, err error) {
				var conflict *ConflictError
				if !errors.As(err, &conflict) || conflict.Capacity != 6 || conflict.Members != 6 || conflict.CurrentVersion != 4 {
					t.Fatalf("unexpected conflict %#v", err)
				}
			},
		},
		{
			name:     "invariant violation",
			in:       &persistence.InvariantViolationError{ParticipantID: "p1", Reason: "not in the stated source"},
			wantKind: "invariant_violation",
		},
		{
			name:     "invalid move",
			in:       &persistence.InvalidMoveError{Reason: "source and destination are the same container"},
			wantKind: "validation",
			check: func(t *testing.T, err error) {
				var vErr *ValidationError
				if !errors.As(err, &vErr) || vErr.FieldErrors["move"] == "" {
					t.Fatalf("expected move field error, got %#v", err)
				}
			},
		},
		{
			name:     "not found",
			in:       &persistence.NotFoundError{Entity: "participant", ID: "ghost"},
			wantKind: "not_found",
		},
		{
			name:     "duplicate",
			in:       fmt.Errorf("wrapped: %w", persistence.ErrDuplicate),
			wantKind: "duplicate_conflict",
		},
		{
			name:     "foreign key",
			in:       persistence.ErrForeignKeyViolation,
			wantKind: "validation",
		},
		{
			name:     "unexpected",
			in:       errors.New("disk on fire"),
			wantKind: "unexpected",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := mapStoreError(tt.in)
			if kind := ErrorKind(got); kind != tt.wantKind {
				t.Fatalf("expected kind %q, got %q (%v)", tt.wantKind, kind, got)
			}
			if tt.check != nil {
				tt.check(t, got)
			}
		})
	}

	if mapStoreError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestErrorKind_Sentinels(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		"unauthorized": fmt.Errorf("wrap: %w", ErrUnauthorized),
		"not_found":    ErrNotFound,
		"dependency":   &DependencyError{Dependency: "calendar", Retryable: true, Err: errors.New("timeout")},
	}
	for want, err := range cases {
		if got := ErrorKind(err); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
	if ErrorKind(nil) != "" {
		t.Fatalf("expected empty kind for nil")
	}
}
