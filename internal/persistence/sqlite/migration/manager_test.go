package migration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

type mockExecutor struct {
	applied  []AppliedMigration
	order    []string
	applyErr error
}

func (m *mockExecutor) InitializeVersionTable(ctx context.Context) error { return nil }

func (m *mockExecutor) ApplyMigration(ctx context.Context, migration Migration) (time.Duration, error) {
	if m.applyErr != nil {
		return 0, m.applyErr
	}
	m.order = append(m.order, migration.Version)
	m.applied = append(m.applied, AppliedMigration{Version: migration.Version, AppliedAt: time.Now(), Checksum: migration.Checksum})
	return time.Millisecond, nil
}

func (m *mockExecutor) GetAppliedVersions(ctx context.Context) ([]AppliedMigration, error) {
	return m.applied, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"m/001_first.sql":  {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"m/002_second.sql": {Data: []byte("CREATE TABLE b (id INTEGER);")},
	}
}

func TestManager_RunMigrations_AppliesPendingInOrder(t *testing.T) {
	fsys := testFS()
	scanned, err := NewFileScanner().ScanMigrations(fsys, "m")
	if err != nil {
		t.Fatal(err)
	}
	executor := &mockExecutor{applied: []AppliedMigration{{Version: "001", Checksum: scanned[0].Checksum}}}
	manager := NewManager(NewFileScanner(), executor, fsys, "m", quietLogger())

	if err := manager.RunMigrations(context.Background()); err != nil {
		t.Fatalf("RunMigrations returned error: %v", err)
	}
	if len(executor.order) != 1 || executor.order[0] != "002" {
		t.Fatalf("expected only 002 to be applied, got %v", executor.order)
	}
}

func TestManager_RunMigrations_WrapsFailure(t *testing.T) {
	executor := &mockExecutor{applyErr: errors.New("boom")}
	manager := NewManager(NewFileScanner(), executor, testFS(), "m", quietLogger())

	err := manager.RunMigrations(context.Background())
	if !errors.Is(err, ErrMigrationFailed) {
		t.Fatalf("expected ErrMigrationFailed, got %v", err)
	}
	var migErr *MigrationError
	if !errors.As(err, &migErr) || migErr.Version != "001" {
		t.Fatalf("expected MigrationError for 001, got %v", err)
	}
}

func TestManager_PendingMigrations_DetectsChecksumDrift(t *testing.T) {
	executor := &mockExecutor{applied: []AppliedMigration{{Version: "001", Checksum: "stale"}}}
	manager := NewManager(NewFileScanner(), executor, testFS(), "m", quietLogger())

	_, err := manager.PendingMigrations(context.Background())
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestValidateSequence(t *testing.T) {
	gap := []Migration{{Version: "001"}, {Version: "003"}}
	if err := validateSequence(gap, nil); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected gap to be rejected, got %v", err)
	}

	available := []Migration{{Version: "001"}}
	if err := validateSequence(available, []AppliedMigration{{Version: "002"}}); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected unknown applied version to be rejected, got %v", err)
	}
	if err := validateSequence(available, []AppliedMigration{{Version: "x"}}); !errors.Is(err, ErrVersionTableCorrupt) {
		t.Errorf("expected corrupt version table, got %v", err)
	}
}

func TestManager_RealDatabase(t *testing.T) {
	ctx := context.Background()
	db, err := Open(DefaultSQLiteConfig(filepath.Join(t.TempDir(), "tatemoku.db")))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer db.Close()

	manager := NewManager(NewFileScanner(), NewSQLiteExecutor(db), Embedded, EmbeddedDir, quietLogger())
	if err := manager.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations returned error: %v", err)
	}
	// second run is a no-op
	if err := manager.RunMigrations(ctx); err != nil {
		t.Fatalf("second RunMigrations returned error: %v", err)
	}

	status, err := manager.Status(ctx)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if status.CurrentVersion != "001" || len(status.PendingMigrations) != 0 {
		t.Fatalf("unexpected status %+v", status)
	}

	var fk int
	if err := db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Fatalf("expected foreign keys enabled, got %d", fk)
	}
}

func TestSQLiteConfig_DSN(t *testing.T) {
	dsn := DefaultSQLiteConfig("/tmp/x.db").DSN()
	for _, want := range []string{"file:/tmp/x.db?", "foreign_keys%281%29", "_txlock=immediate", "busy_timeout%285000%29"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN %q missing %q", dsn, want)
		}
	}
	if err := (SQLiteConfig{}).Validate(); err == nil {
		t.Errorf("expected empty path to be rejected")
	}
}
