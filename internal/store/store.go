// Package store provides the organizer's local persistence layer.
//
// Every collection is stored as one row of a key/value table in an embedded
// SQLite database (WAL mode). Values are whole serialized collections:
// writes replace the previous value entirely and run inside a transaction,
// so a failed write leaves the previous value untouched.
//
// Architecture:
//   - Database file: <data_dir>/organizer.db
//   - Table kv(name, value, updated_at), one row per collection
//   - Successful non-silent writes fire the change notifier and every
//     registered write observer (the sync orchestrator's debounce)
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/casamocholi/organizer/internal/notify"
)

var (
	// ErrNotFound is returned when no value is stored under a name.
	ErrNotFound = errors.New("no stored value")

	// ErrSerialization is returned when a value cannot be encoded or a
	// stored value cannot be decoded.
	ErrSerialization = errors.New("serialization failure")

	// ErrPersistence is returned when the database rejects a write.
	ErrPersistence = errors.New("local persistence failure")

	// ErrQuotaExceeded is returned when a write would grow the store past
	// its configured quota. It wraps ErrPersistence.
	ErrQuotaExceeded = fmt.Errorf("%w: storage quota exceeded", ErrPersistence)
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// WriteObserver is called with the collection name after every successful
// non-silent write.
type WriteObserver func(name string)

// Store is the local key/value store of collections.
type Store struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
	quota  int

	mu        sync.RWMutex
	notifier  notify.Notifier
	observers []WriteObserver

	versionMu   sync.Mutex
	dataVersion int64
	haveVersion bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for read fallbacks and warnings.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithNotifier sets the change notifier fired after non-silent writes.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Store) {
		s.notifier = n
	}
}

// WithWriteObserver registers an observer at construction time.
func WithWriteObserver(fn WriteObserver) Option {
	return func(s *Store) {
		s.observers = append(s.observers, fn)
	}
}

// WithQuota limits the total size in bytes of all stored values.
// Zero means unlimited.
func WithQuota(bytes int) Option {
	return func(s *Store) {
		s.quota = bytes
	}
}

// WriteOption modifies a single write.
type WriteOption func(*writeOptions)

type writeOptions struct {
	silent bool
}

// Silent suppresses the change notification and write observers for this
// write. The sync orchestrator uses it when applying a merge result.
func Silent() WriteOption {
	return func(o *writeOptions) {
		o.silent = true
	}
}

func collectWriteOptions(opts []WriteOption) writeOptions {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open opens (creating if needed) the store at path.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.Open("/home/me/.local/share/organizer/organizer.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string, opts ...Option) (*Store, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// One connection: PRAGMA data_version only detects commits made by
	// other connections, and an in-memory database is per connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Store{
		conn: conn,
		path: path,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.InitSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// InitSchema creates the key/value table if it doesn't exist.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the key/value table with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// AddWriteObserver registers fn to run after every non-silent write.
func (s *Store) AddWriteObserver(fn WriteObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// SetNotifier replaces the change notifier.
func (s *Store) SetNotifier(n notify.Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// Get decodes the value stored under name into dest.
//
// Returns ErrNotFound when nothing is stored and ErrSerialization when the
// stored value does not decode into dest.
func (s *Store) Get(ctx context.Context, name string, dest any) error {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	if err := json.Unmarshal([]byte(value), dest); err != nil {
		return fmt.Errorf("%w: failed to decode %s: %v", ErrSerialization, name, err)
	}
	return nil
}

// Read returns the value stored under name, or def when the value is
// absent or unparsable.
func Read[T any](ctx context.Context, s *Store, name string, def T) T {
	var value T
	if err := s.Get(ctx, name, &value); err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Printf("Error reading %s from storage, using default: %v", name, err)
		}
		return def
	}
	return value
}

// Set stores value under name, replacing any previous value.
func (s *Store) Set(ctx context.Context, name string, value any, opts ...WriteOption) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: failed to encode %s: %v", ErrSerialization, name, err)
	}

	if err := s.write(ctx, []entry{{name: name, value: data}}); err != nil {
		return err
	}

	if !collectWriteOptions(opts).silent {
		s.afterWrite([]string{name})
	}
	return nil
}

type entry struct {
	name  string
	value []byte
}

// write upserts entries in one transaction.
func (s *Store) write(ctx context.Context, entries []entry) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ErrPersistence, err)
	}
	defer tx.Rollback()

	if s.quota > 0 {
		if err := s.checkQuota(ctx, tx, entries); err != nil {
			return err
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	query := `
	INSERT INTO kv (name, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, query, e.name, string(e.value), now); err != nil {
			return fmt.Errorf("%w: failed to write %s: %v", ErrPersistence, e.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", ErrPersistence, err)
	}
	return nil
}

// checkQuota fails when the store would exceed its quota after the write.
func (s *Store) checkQuota(ctx context.Context, tx *sql.Tx, entries []entry) error {
	names := make([]any, 0, len(entries))
	placeholders := make([]string, 0, len(entries))
	incoming := 0
	for _, e := range entries {
		names = append(names, e.name)
		placeholders = append(placeholders, "?")
		incoming += len(e.value)
	}

	query := fmt.Sprintf(`SELECT COALESCE(SUM(LENGTH(value)), 0) FROM kv WHERE name NOT IN (%s)`,
		strings.Join(placeholders, ", "))
	var kept int
	if err := tx.QueryRowContext(ctx, query, names...).Scan(&kept); err != nil {
		return fmt.Errorf("%w: failed to measure storage: %v", ErrPersistence, err)
	}

	if kept+incoming > s.quota {
		return fmt.Errorf("%w (%d of %d bytes)", ErrQuotaExceeded, kept+incoming, s.quota)
	}
	return nil
}

// afterWrite fires the notifier once and every observer per name.
func (s *Store) afterWrite(names []string) {
	s.mu.RLock()
	n := s.notifier
	observers := append([]WriteObserver(nil), s.observers...)
	s.mu.RUnlock()

	if n != nil {
		n.Notify()
	}
	for _, name := range names {
		for _, fn := range observers {
			fn(name)
		}
	}
}

// Delete removes the value stored under name. Deleting a missing name is
// not an error. Used for credentials only; collections are never removed.
func (s *Store) Delete(ctx context.Context, name string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM kv WHERE name = ?`, name); err != nil {
		return fmt.Errorf("%w: failed to delete %s: %v", ErrPersistence, name, err)
	}
	return nil
}

// ExternalChange reports whether another process committed to the database
// since the previous call. The first call records a baseline and reports
// false.
func (s *Store) ExternalChange(ctx context.Context) (bool, error) {
	var version int64
	if err := s.conn.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&version); err != nil {
		return false, fmt.Errorf("failed to read data version: %w", err)
	}

	s.versionMu.Lock()
	defer s.versionMu.Unlock()

	changed := s.haveVersion && version != s.dataVersion
	s.dataVersion = version
	s.haveVersion = true
	return changed, nil
}

// Names returns the names of every stored value.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT name FROM kv ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
