package migration

import (
	"context"
	"io/fs"
	"time"
)

// Migration represents a database migration with its metadata and SQL content
type Migration struct {
	Version     string // Version identifier (e.g., "001", "002")
	Description string // Human-readable description of the migration
	SQL         string // SQL statements to execute
	FilePath    string // Path of the migration inside its file system
	Checksum    string // SHA-256 of the SQL content
}

// FileScanner reads migration files from a file system
type FileScanner interface {
	// ScanMigrations returns the migrations found in dir, sorted by version
	ScanMigrations(fsys fs.FS, dir string) ([]Migration, error)

	// ValidateFileName checks if migration file follows naming convention
	ValidateFileName(filename string) error
}

// Executor handles the actual execution of migrations against the database
type Executor interface {
	// InitializeVersionTable creates the schema_migrations table if it doesn't exist
	InitializeVersionTable(ctx context.Context) error

	// ApplyMigration runs a migration and records it in one transaction
	ApplyMigration(ctx context.Context, migration Migration) (time.Duration, error)

	// GetAppliedVersions returns all applied migration versions with timestamps
	GetAppliedVersions(ctx context.Context) ([]AppliedMigration, error)
}

// MigrationStatus provides information about the current migration state
type MigrationStatus struct {
	CurrentVersion    string
	AppliedMigrations []AppliedMigration
	PendingMigrations []Migration
}

// AppliedMigration represents a migration that has been successfully applied
type AppliedMigration struct {
	Version       string
	AppliedAt     time.Time
	ExecutionTime time.Duration
	Checksum      string
}
