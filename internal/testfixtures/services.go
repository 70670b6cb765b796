package testfixtures

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kiyo123456/Tatemoku-management/internal/application"
	"github.com/kiyo123456/Tatemoku-management/internal/persistence"
	"github.com/kiyo123456/Tatemoku-management/internal/recurrence"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// GroupingServiceDeps captures dependencies for constructing a grouping service.
type GroupingServiceDeps struct {
	Store       application.GroupingStore
	Authorizer  application.Authorizer
	Publisher   application.ChangePublisher
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// NewGroupingService builds a grouping service using the supplied dependencies
// combined with the factory defaults.
func (f *ServiceFactory) NewGroupingService(deps GroupingServiceDeps) *application.GroupingService {
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = f.IDGenerator.NextFunc()
	}
	now := deps.Now
	if now == nil {
		now = f.Clock.NowFunc()
	}
	return application.NewGroupingServiceWithLogger(
		deps.Store,
		deps.Authorizer,
		deps.Publisher,
		idGen,
		now,
		deps.Logger,
	)
}

// AvailabilityServiceDeps captures dependencies for constructing an availability service.
type AvailabilityServiceDeps struct {
	Finder   application.SlotFinder
	Patterns *recurrence.Engine
	Logger   *slog.Logger
}

// NewAvailabilityService builds an availability service using the supplied dependencies.
func (f *ServiceFactory) NewAvailabilityService(deps AvailabilityServiceDeps) *application.AvailabilityService {
	return application.NewAvailabilityServiceWithLogger(deps.Finder, deps.Patterns, deps.Logger)
}

// RecordingPublisher is a ChangePublisher that keeps every published entry in memory.
type RecordingPublisher struct {
	mu      sync.Mutex
	entries []persistence.ChangeLogEntry
	Err     error
}

// PublishChanges implements application.ChangePublisher.
func (p *RecordingPublisher) PublishChanges(ctx context.Context, entries []persistence.ChangeLogEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.entries = append(p.entries, entries...)
	return nil
}

// Entries returns a copy of the published entries in publishing order.
func (p *RecordingPublisher) Entries() []persistence.ChangeLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]persistence.ChangeLogEntry(nil), p.entries...)
}

// GroupingHarness wires a GroupingService to a migrated SQLite store and a recording publisher.
type GroupingHarness struct {
	*SQLiteHarness
	Service   *application.GroupingService
	Publisher *RecordingPublisher
}

// NewGroupingHarness constructs a GroupingHarness using the default container admin policy.
func NewGroupingHarness(tb testing.TB) *GroupingHarness {
	tb.Helper()

	store := NewSQLiteHarness(tb)
	publisher := &RecordingPublisher{}
	factory := NewServiceFactory(WithClock(store.Clock), WithIDGenerator(NewIDGenerator("id")))
	service := factory.NewGroupingService(GroupingServiceDeps{
		Store:     store.Store,
		Publisher: publisher,
		Logger:    discardLogger(),
	})
	return &GroupingHarness{SQLiteHarness: store, Service: service, Publisher: publisher}
}
