package migration

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"time"
)

// Manager applies pending migrations in version order.
type Manager struct {
	scanner  FileScanner
	executor Executor
	fsys     fs.FS
	dir      string
	logger   *slog.Logger
}

// NewManager creates a manager reading migrations from dir inside fsys.
func NewManager(scanner FileScanner, executor Executor, fsys fs.FS, dir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		scanner:  scanner,
		executor: executor,
		fsys:     fsys,
		dir:      dir,
		logger:   logger.With("component", "migration"),
	}
}

// RunMigrations executes all pending migrations in sequential order
func (m *Manager) RunMigrations(ctx context.Context) error {
	started := time.Now()

	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		m.logger.ErrorContext(ctx, "failed to initialize schema_migrations", "error", err)
		return fmt.Errorf("failed to initialize version table: %w", err)
	}

	pending, err := m.PendingMigrations(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		m.logger.InfoContext(ctx, "database schema up to date")
		return nil
	}

	for i, migration := range pending {
		logger := m.logger.With("version", migration.Version, "file", migration.FilePath)
		logger.InfoContext(ctx, "applying migration",
			"description", migration.Description,
			"position", fmt.Sprintf("%d/%d", i+1, len(pending)),
		)

		elapsed, err := m.executor.ApplyMigration(ctx, migration)
		if err != nil {
			logger.ErrorContext(ctx, "migration failed", "error", err)
			return NewMigrationError(migration.Version, migration.FilePath, "execute migration",
				fmt.Errorf("%w: %v", ErrMigrationFailed, err))
		}
		logger.InfoContext(ctx, "migration applied", "duration", elapsed)
	}

	m.logger.InfoContext(ctx, "migrations completed", "count", len(pending), "duration", time.Since(started))
	return nil
}

// PendingMigrations returns the migrations that still need to be applied.
func (m *Manager) PendingMigrations(ctx context.Context) ([]Migration, error) {
	available, err := m.scanner.ScanMigrations(m.fsys, m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan migrations: %w", err)
	}

	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied versions: %w", err)
	}

	if err := validateSequence(available, applied); err != nil {
		return nil, err
	}

	appliedSet := make(map[string]AppliedMigration, len(applied))
	for _, a := range applied {
		appliedSet[a.Version] = a
	}

	var pending []Migration
	for _, migration := range available {
		record, ok := appliedSet[migration.Version]
		if !ok {
			pending = append(pending, migration)
			continue
		}
		if record.Checksum != "" && record.Checksum != migration.Checksum {
			return nil, NewMigrationError(migration.Version, migration.FilePath, "verify checksum",
				fmt.Errorf("%w: applied checksum %s differs from file", ErrVersionConflict, record.Checksum))
		}
	}
	return pending, nil
}

// Status reports applied and pending migrations.
func (m *Manager) Status(ctx context.Context) (MigrationStatus, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return MigrationStatus{}, fmt.Errorf("failed to initialize version table: %w", err)
	}
	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return MigrationStatus{}, err
	}
	pending, err := m.PendingMigrations(ctx)
	if err != nil {
		return MigrationStatus{}, err
	}

	status := MigrationStatus{AppliedMigrations: applied, PendingMigrations: pending}
	highest := -1
	for _, a := range applied {
		if v, err := strconv.Atoi(a.Version); err == nil && v > highest {
			highest = v
			status.CurrentVersion = a.Version
		}
	}
	return status, nil
}

// validateSequence rejects gaps in the available versions and applied versions with no file.
func validateSequence(available []Migration, applied []AppliedMigration) error {
	present := make(map[int]bool, len(available))
	for i, migration := range available {
		v, err := strconv.Atoi(migration.Version)
		if err != nil {
			return NewMigrationError(migration.Version, migration.FilePath, "validate sequence",
				fmt.Errorf("%w: version '%s' is not numeric", ErrInvalidVersion, migration.Version))
		}
		if i > 0 {
			prev, _ := strconv.Atoi(available[i-1].Version)
			if v != prev+1 {
				return fmt.Errorf("%w: missing migration version %03d in sequence", ErrVersionConflict, prev+1)
			}
		}
		present[v] = true
	}

	for _, a := range applied {
		v, err := strconv.Atoi(a.Version)
		if err != nil {
			return NewDatabaseError(a.Version, "", "validate sequence",
				fmt.Errorf("%w: applied version '%s' is not numeric", ErrVersionTableCorrupt, a.Version))
		}
		if !present[v] {
			return fmt.Errorf("%w: applied migration %03d not found in available migrations", ErrVersionConflict, v)
		}
	}
	return nil
}
