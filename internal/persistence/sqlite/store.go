package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kiyo123456/Tatemoku-management/internal/persistence"
	"github.com/kiyo123456/Tatemoku-management/internal/persistence/sqlite/migration"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	_ persistence.ParticipantRepository = (*Store)(nil)
	_ persistence.SessionRepository     = (*Store)(nil)
	_ persistence.MembershipStore       = (*Store)(nil)
	_ persistence.ChangeLogRepository   = (*Store)(nil)
)

// Store implements the persistence ports on SQLite. Every mutation runs in one
// transaction together with the change log entries it produces.
type Store struct {
	pool   *ConnectionPool
	retry  *RetryHelper
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides the generator used for change log entry ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithLogger sets the logger used for migrations.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRetryConfig overrides the busy retry policy.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(s *Store) {
		s.retry = NewRetryHelper(cfg)
	}
}

// New wraps an existing pool.
func New(pool *ConnectionPool, opts ...Option) *Store {
	s := &Store{
		pool:   pool,
		retry:  NewRetryHelper(DefaultRetryConfig()),
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the database described by cfg and applies pending migrations.
func Open(ctx context.Context, cfg migration.SQLiteConfig, opts ...Option) (*Store, error) {
	pool, err := NewConnectionPool(cfg)
	if err != nil {
		return nil, err
	}
	store := New(pool, opts...)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	manager := migration.NewManager(
		migration.NewFileScanner(),
		migration.NewSQLiteExecutor(s.pool.DB()),
		migration.Embedded,
		migration.EmbeddedDir,
		s.logger,
	)
	if err := manager.RunMigrations(ctx); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// DB exposes the underlying handle for tests and diagnostics.
func (s *Store) DB() *sql.DB {
	return s.pool.DB()
}

// inTx runs fn in a transaction, retrying lock contention. fn may run more than once and
// must reset any captured results at its start.
func (s *Store) inTx(ctx context.Context, fn TransactionFunc) error {
	return s.retry.WithRetry(ctx, func() error {
		return s.pool.WithTransaction(ctx, fn)
	})
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse timestamp %q: %w", value, err)
	}
	return t, nil
}

func nullableString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
