// Package index maintains the embedded SQLite catalog of units, execution
// blocks and artifacts. Each shard writes its own store; Merge folds shard
// stores and loose summary files into a central one.
package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/alma-bulk/internal/mous"
)

const driverName = "sqlite"

func init() {
	sqlx.BindDriver(driverName, sqlx.QUESTION)
}

// DBPath returns the store location under dest: alma_index.sqlite, or
// alma_index.<shard>.sqlite for a shard.
func DBPath(dest, shard string) string {
	if shard != "" {
		return filepath.Join(dest, "alma_index."+shard+".sqlite")
	}
	return filepath.Join(dest, "alma_index.sqlite")
}

// Store is one index database.
type Store struct {
	db     *sqlx.DB
	path   string
	logger *zap.Logger
	clock  mous.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for last_seen and updated_at stamps.
func WithClock(c mous.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open opens or creates the store at path, applies the connection pragmas
// and creates the schema.
func Open(ctx context.Context, path string, logger *zap.Logger, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := openDB(ctx, path)
	if err != nil {
		return nil, err
	}
	s := NewWithDB(db, logger, opts...)
	s.path = path
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing connection. The schema is not created.
func NewWithDB(db *sqlx.DB, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{db: db, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// openDB connects to a SQLite file with foreign keys, WAL and a busy
// timeout. A single connection keeps the pragmas in force.
func openDB(ctx context.Context, path string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s on %s: %w", pragma, path, err)
		}
	}
	return db, nil
}

// Init creates the tables when they do not exist.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Path is the file the store was opened from, empty for wrapped connections.
func (s *Store) Path() string {
	return s.path
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	return nil
}

// Vacuum compacts the database file.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// IntegrityCheck returns the first line of PRAGMA integrity_check, "ok" for
// a healthy file.
func (s *Store) IntegrityCheck(ctx context.Context) (string, error) {
	var result string
	if err := s.db.QueryRowxContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return "", fmt.Errorf("integrity check: %w", err)
	}
	return result, nil
}

func (s *Store) now() string {
	if s.clock == nil {
		return mous.FormatTimestamp(time.Now())
	}
	return mous.FormatTimestamp(s.clock.Now())
}

// withTx runs fn in a transaction, rolling back when it fails.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
