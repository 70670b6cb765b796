package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kiyo123456/Tatemoku-management/internal/persistence"
)

var (
	participantCounter uint64
	sessionCounter     uint64
)

// Monday 2025-01-06 00:00 UTC; 09:00 JST that day is 00:00 UTC.
var referenceTime = time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ParticipantFixture represents a deterministic participant record.
type ParticipantFixture struct {
	ID          string
	DisplayName string
	ContactKey  string
	Role        string
	CreatedAt   time.Time
}

// ParticipantOption configures the generated participant fixture.
type ParticipantOption func(*ParticipantFixture)

// NewParticipantFixture returns a deterministic participant fixture with optional overrides.
func NewParticipantFixture(opts ...ParticipantOption) ParticipantFixture {
	idx := atomic.AddUint64(&participantCounter, 1)
	id := fmt.Sprintf("participant-%03d", idx)
	fixture := ParticipantFixture{
		ID:          id,
		DisplayName: fmt.Sprintf("Participant %03d", idx),
		ContactKey:  fmt.Sprintf("%s@example.com", id),
		Role:        "member",
		CreatedAt:   referenceTime.Add(time.Duration(idx) * time.Minute),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithParticipantID overrides the generated id and derives the contact key from it.
func WithParticipantID(id string) ParticipantOption {
	return func(f *ParticipantFixture) {
		f.ID = id
		f.ContactKey = id + "@example.com"
	}
}

// WithContactKey overrides the calendar contact key.
func WithContactKey(key string) ParticipantOption {
	return func(f *ParticipantFixture) {
		f.ContactKey = key
	}
}

// WithRole sets the participant role.
func WithRole(role string) ParticipantOption {
	return func(f *ParticipantFixture) {
		f.Role = role
	}
}

// Persistence returns the fixture as a persistence.Participant value.
func (f ParticipantFixture) Persistence() persistence.Participant {
	return persistence.Participant{
		ID:          f.ID,
		DisplayName: f.DisplayName,
		ContactKey:  f.ContactKey,
		Role:        f.Role,
		CreatedAt:   f.CreatedAt,
	}
}

// SessionFixture represents a deterministic tatemoku session.
type SessionFixture struct {
	ID              string
	Title           string
	DefaultCapacity int
	CreatedBy       string
	CreatedAt       time.Time
}

// SessionOption configures the generated session fixture.
type SessionOption func(*SessionFixture)

// NewSessionFixture returns a deterministic session fixture with optional overrides.
func NewSessionFixture(opts ...SessionOption) SessionFixture {
	idx := atomic.AddUint64(&sessionCounter, 1)
	fixture := SessionFixture{
		ID:              fmt.Sprintf("session-%03d", idx),
		Title:           fmt.Sprintf("Tatemoku %03d", idx),
		DefaultCapacity: 6,
		CreatedBy:       "organizer",
		CreatedAt:       referenceTime.Add(time.Duration(idx) * time.Hour),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) SessionOption {
	return func(f *SessionFixture) {
		f.ID = id
	}
}

// WithSessionCreator sets the participant who created the session.
func WithSessionCreator(id string) SessionOption {
	return func(f *SessionFixture) {
		f.CreatedBy = id
	}
}

// WithDefaultCapacity sets the capacity new session groups inherit.
func WithDefaultCapacity(capacity int) SessionOption {
	return func(f *SessionFixture) {
		f.DefaultCapacity = capacity
	}
}

// Persistence returns the fixture as a persistence.Session value.
func (f SessionFixture) Persistence() persistence.Session {
	return persistence.Session{
		ID:              f.ID,
		Title:           f.Title,
		DefaultCapacity: f.DefaultCapacity,
		CreatedBy:       f.CreatedBy,
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.CreatedAt,
	}
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}

// StringPtr returns a pointer to v.
func StringPtr(v string) *string {
	return &v
}
