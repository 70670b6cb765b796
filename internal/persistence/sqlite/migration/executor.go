package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLiteExecutor implements the Executor interface for SQLite databases
type SQLiteExecutor struct {
	db *sql.DB
}

// NewSQLiteExecutor creates a new SQLite migration executor
func NewSQLiteExecutor(db *sql.DB) *SQLiteExecutor {
	return &SQLiteExecutor{db: db}
}

// InitializeVersionTable creates the schema_migrations table if it doesn't exist
func (e *SQLiteExecutor) InitializeVersionTable(ctx context.Context) error {
	const createTableSQL = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL,
			checksum TEXT,
			execution_time_ms INTEGER
		)`

	if _, err := e.db.ExecContext(ctx, createTableSQL); err != nil {
		return NewDatabaseError("", createTableSQL, "create schema_migrations table", err)
	}
	return nil
}

// ApplyMigration executes the migration's statements and records the version atomically.
func (e *SQLiteExecutor) ApplyMigration(ctx context.Context, migration Migration) (elapsed time.Duration, err error) {
	statements := parseSQL(migration.SQL)
	if len(statements) == 0 {
		return 0, NewMigrationError(migration.Version, migration.FilePath, "parse SQL",
			fmt.Errorf("%w: no SQL statements found", ErrInvalidMigrationFile))
	}

	started := time.Now()
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, NewDatabaseError(migration.Version, "", "begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, stmt := range statements {
		if _, execErr := tx.ExecContext(ctx, stmt); execErr != nil {
			err = NewDatabaseError(migration.Version, stmt, fmt.Sprintf("execute statement %d", i+1), execErr)
			return 0, err
		}
	}

	elapsed = time.Since(started)
	const insertSQL = `INSERT INTO schema_migrations (version, applied_at, checksum, execution_time_ms) VALUES (?, ?, ?, ?)`
	if _, execErr := tx.ExecContext(ctx, insertSQL, migration.Version, time.Now().UTC().Format(time.RFC3339), migration.Checksum, elapsed.Milliseconds()); execErr != nil {
		err = NewDatabaseError(migration.Version, insertSQL, "record migration", execErr)
		return 0, err
	}

	if commitErr := tx.Commit(); commitErr != nil {
		err = NewDatabaseError(migration.Version, "", "commit transaction", commitErr)
		return 0, err
	}
	return elapsed, nil
}

// GetAppliedVersions returns all applied migration versions with timestamps
func (e *SQLiteExecutor) GetAppliedVersions(ctx context.Context) ([]AppliedMigration, error) {
	const querySQL = `
		SELECT version, applied_at, COALESCE(execution_time_ms, 0), COALESCE(checksum, '')
		FROM schema_migrations
		ORDER BY version ASC`

	rows, err := e.db.QueryContext(ctx, querySQL)
	if err != nil {
		return nil, NewDatabaseError("", querySQL, "get applied versions", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			version, appliedAt, checksum string
			executionMs                  int64
		)
		if err := rows.Scan(&version, &appliedAt, &executionMs, &checksum); err != nil {
			return nil, NewDatabaseError("", querySQL, "scan applied migration", err)
		}
		ts, parseErr := time.Parse(time.RFC3339, appliedAt)
		if parseErr != nil {
			return nil, NewDatabaseError(version, querySQL, "parse applied_at",
				errors.Join(ErrVersionTableCorrupt, parseErr))
		}
		applied = append(applied, AppliedMigration{
			Version:       version,
			AppliedAt:     ts,
			ExecutionTime: time.Duration(executionMs) * time.Millisecond,
			Checksum:      checksum,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, NewDatabaseError("", querySQL, "iterate applied migrations", err)
	}
	return applied, nil
}

// parseSQL splits SQL content into statements. Line comments are dropped
// before splitting, and semicolons inside quoted literals do not end a statement.
func parseSQL(content string) []string {
	var (
		statements []string
		current    strings.Builder
		quote      rune
	)
	flush := func() {
		var kept []string
		for _, line := range strings.Split(current.String(), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				kept = append(kept, line)
			}
		}
		if cleaned := strings.Join(kept, "\n"); cleaned != "" {
			statements = append(statements, cleaned)
		}
		current.Reset()
	}

	runes := []rune(content)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			current.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			current.WriteRune(r)
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			current.WriteRune('\n')
		case r == ';':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return statements
}
