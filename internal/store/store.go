// Package store is Taskly's Local Store: a durable SQLite database holding
// the tasks and user collections, the API response cache, and the sync
// queue.
//
// The database runs embedded (ncruces/go-sqlite3) in WAL mode so the CLI,
// the daemon, and the dashboard can read while a sync pass writes.
//
// Layout:
//   - Database file: <data_dir>/taskly.db
//   - Collections: tasks, user (indexed by status and created_at)
//   - Sync queue: sync_queue (indexed by action and timestamp)
//   - API cache: api_cache (keyed by a hash of the endpoint)
//   - Schema version: schema_version
//
// When the file database cannot be opened, OpenOrMemory falls back to an
// in-memory database so the rest of the client keeps working without
// persistence.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/sirupsen/logrus"
)

// Collection names a record collection.
type Collection string

// Record collections.
const (
	Tasks Collection = "tasks"
	User  Collection = "user"
)

// Collections lists every record collection.
var Collections = []Collection{Tasks, User}

// Valid reports whether c names a known collection.
func (c Collection) Valid() bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}

var (
	// ErrNotFound is returned when a record, cache entry or queue item is absent.
	ErrNotFound = errors.New("not found")

	// ErrExpired is returned for cache entries older than the validity window.
	ErrExpired = errors.New("cache entry expired")

	// ErrUnknownCollection is returned for collection names outside Collections.
	ErrUnknownCollection = errors.New("unknown collection")
)

// StorageError reports a failure of the underlying database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Store wraps the SQLite connection.
type Store struct {
	conn     *sql.DB
	path     string
	clock    clockwork.Clock
	logger   logrus.FieldLogger
	degraded bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for bookkeeping timestamps and cache age.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.logger = l }
}

func newStore(path string, opts []Option) *Store {
	s := &Store{path: path}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	return s
}

// Open opens (creating if needed) the database at path and applies any
// missing schema migrations.
//
// The caller MUST call Close() when done.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, storageErr("open", fmt.Errorf("failed to create database directory: %w", err))
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, storageErr("open", fmt.Errorf("failed to open database: %w", err))
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, storageErr("open", fmt.Errorf("failed to ping database: %w", err))
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := newStore(path, opts)
	s.conn = conn

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			_ = conn.Close()
			return nil, storageErr("open", fmt.Errorf("failed to apply %q: %w", p, err))
		}
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory opens a non-persistent database.
func OpenMemory(opts ...Option) (*Store, error) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, storageErr("open", fmt.Errorf("failed to open memory database: %w", err))
	}
	// Every connection to :memory: is a separate database.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	s := newStore(":memory:", opts)
	s.conn = conn
	if err := s.Migrate(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// OpenOrMemory opens the database at path, falling back to an in-memory
// database when that fails. The fallback store reports Degraded() == true.
func OpenOrMemory(path string, opts ...Option) (*Store, error) {
	s, err := Open(path, opts...)
	if err == nil {
		return s, nil
	}

	mem, memErr := OpenMemory(opts...)
	if memErr != nil {
		return nil, fmt.Errorf("failed to open store (%v) and memory fallback: %w", err, memErr)
	}
	mem.degraded = true
	mem.logger.WithError(err).WithField("path", path).
		Warn("local store unavailable, running without persistence")
	return mem, nil
}

// Path returns the database path, or ":memory:".
func (s *Store) Path() string {
	return s.path
}

// Degraded reports whether the store fell back to memory.
func (s *Store) Degraded() bool {
	return s.degraded
}

// RawDB returns the underlying connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if s.path != ":memory:" {
		if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			s.logger.WithError(err).Warn("failed to checkpoint WAL")
		}
	}

	if err := s.conn.Close(); err != nil {
		return storageErr("close", err)
	}
	s.conn = nil
	return nil
}

// ClearOfflineData wipes every collection, the API cache and the sync
// queue. Used by logout and reset flows.
func (s *Store) ClearOfflineData(ctx context.Context) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("clear", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	tables := []string{"api_cache", "sync_queue"}
	for _, c := range Collections {
		tables = append(tables, string(c))
	}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return storageErr("clear", fmt.Errorf("failed to clear %s: %w", table, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("clear", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
