// Package migration applies the versioned SQLite schema for the membership store.
//
// Migration files are embedded from sql/ and follow the naming convention
// {version}_{description}.sql (e.g., "001_membership_schema.sql"). Applied versions
// and their checksums are tracked in the schema_migrations table; a file whose
// checksum changed after it was applied is reported as a version conflict.
//
// Example usage:
//
//	manager := NewManager(NewFileScanner(), NewSQLiteExecutor(db), Embedded, EmbeddedDir, logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return err
//	}
package migration
