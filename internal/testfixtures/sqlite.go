package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/kiyo123456/Tatemoku-management/internal/persistence"
	"github.com/kiyo123456/Tatemoku-management/internal/persistence/sqlite"
	"github.com/kiyo123456/Tatemoku-management/internal/persistence/sqlite/migration"
)

// SQLiteHarness provides a migrated store backed by a temporary SQLite file, with a
// ticking clock and deterministic change log ids.
type SQLiteHarness struct {
	Store *sqlite.Store
	Clock *Clock
	IDs   *IDGenerator

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness constructs a SQLiteHarness using a temporary file that is
// migrated automatically. Callers may optionally invoke Close, but the helper
// will also register a cleanup callback with the provided testing.TB.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "tatemoku.db")
	clock := NewClock(time.Time{})
	ids := NewIDGenerator("entry")

	store, err := sqlite.Open(context.Background(), migration.DefaultSQLiteConfig(path),
		sqlite.WithClock(clock.TickFunc(time.Second)),
		sqlite.WithIDGenerator(ids.NextFunc()),
		sqlite.WithLogger(discardLogger()),
	)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	harness := &SQLiteHarness{
		Store: store,
		Clock: clock,
		IDs:   ids,
		cleanup: func() {
			_ = store.Close()
		},
	}
	tb.Cleanup(harness.Close)
	return harness
}

// MustParticipants creates one participant per id.
func (h *SQLiteHarness) MustParticipants(tb testing.TB, ids ...string) {
	tb.Helper()
	for _, id := range ids {
		if err := h.Store.CreateParticipant(context.Background(), NewParticipantFixture(WithParticipantID(id)).Persistence()); err != nil {
			tb.Fatalf("create participant %s: %v", id, err)
		}
	}
}

// MustContainer creates a container and returns it.
func (h *SQLiteHarness) MustContainer(tb testing.TB, spec persistence.ContainerSpec) persistence.Container {
	tb.Helper()
	if spec.ActorID == "" {
		spec.ActorID = "organizer"
	}
	container, _, err := h.Store.CreateContainer(context.Background(), spec)
	if err != nil {
		tb.Fatalf("create %s %q: %v", spec.Kind, spec.Name, err)
	}
	return container
}

// MustSession creates a session and places participantIDs in its unassigned pool.
func (h *SQLiteHarness) MustSession(tb testing.TB, fixture SessionFixture, participantIDs ...string) persistence.Session {
	tb.Helper()
	ctx := context.Background()
	if err := h.Store.CreateSession(ctx, fixture.Persistence()); err != nil {
		tb.Fatalf("create session %s: %v", fixture.ID, err)
	}
	if len(participantIDs) > 0 {
		if _, err := h.Store.AddSessionParticipants(ctx, fixture.ID, participantIDs, fixture.CreatedBy); err != nil {
			tb.Fatalf("add session participants: %v", err)
		}
	}
	session, err := h.Store.GetSession(ctx, fixture.ID)
	if err != nil {
		tb.Fatalf("get session %s: %v", fixture.ID, err)
	}
	return session
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
