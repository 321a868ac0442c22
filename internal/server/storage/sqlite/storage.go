package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Storage represents SQLite storage implementation
type Storage struct {
	db         *sql.DB
	migrations *goose.Provider
}

// Option настраивает открытие хранилища
type Option func(*options)

type options struct {
	skipMigrations bool
}

// WithoutMigrations opens the database without applying pending migrations.
func WithoutMigrations() Option {
	return func(o *options) {
		o.skipMigrations = true
	}
}

// New creates a new SQLite storage instance and applies pending migrations.
// dbPath is the path to the SQLite database file
// Use ":memory:" for in-memory database (useful for testing)
func New(ctx context.Context, dbPath string, opts ...Option) (*Storage, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// Открываем соединение с БД
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Одно соединение: запись сериализуется, а :memory: живёт в нём же
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}

	storage := &Storage{db: db, migrations: provider}
	if o.skipMigrations {
		return storage, nil
	}

	if _, err := storage.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// MigrationStatus describes one embedded migration
type MigrationStatus struct {
	Path    string
	State   string
	Version int64
}

// MigrationStatus lists embedded migrations and whether they are applied
func (s *Storage) MigrationStatus(ctx context.Context) ([]MigrationStatus, error) {
	list, err := s.migrations.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get migration status: %w", err)
	}

	result := make([]MigrationStatus, 0, len(list))
	for _, st := range list {
		result = append(result, MigrationStatus{
			Version: st.Source.Version,
			Path:    st.Source.Path,
			State:   string(st.State),
		})
	}
	return result, nil
}

// Migrate applies pending migrations and returns how many were applied
func (s *Storage) Migrate(ctx context.Context) (int, error) {
	results, err := s.migrations.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("goose up failed: %w", err)
	}
	return len(results), nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
