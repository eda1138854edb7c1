package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/roach88/idmerge/internal/remap"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Indexes on recipient-owned columns used by RemapOwner
const currentSchemaVersion = 1

// Driver names accepted by WithDriver.
const (
	// DriverMattn is github.com/mattn/go-sqlite3 (cgo).
	DriverMattn = "sqlite3"

	// DriverModernc is modernc.org/sqlite (pure Go).
	DriverModernc = "sqlite"
)

const memoryPath = ":memory:"

// ErrNotFound is returned when a row does not exist and was never remapped.
var ErrNotFound = errors.New("not found")

// Store is the SQLite-backed contact store.
//
// It holds two pools over the same WAL database: a writer limited to one
// connection whose transactions begin IMMEDIATE, and a reader pool that sees
// the last committed snapshot. Exactly one write transaction is in flight
// at a time.
type Store struct {
	writer *sql.DB
	reader *sql.DB

	driver     string
	registry   *remap.Registry
	dependents []OwnerRemapper
	threaded   []ThreadRemapper
	logger     *slog.Logger
}

// Option configures Open.
type Option func(*options)

type options struct {
	driver        string
	registry      *remap.Registry
	busyTimeoutMS int
	readers       int
	logger        *slog.Logger
	extra         []OwnerRemapper
}

// WithDriver selects the database/sql driver (DriverMattn or DriverModernc).
func WithDriver(name string) Option {
	return func(o *options) { o.driver = name }
}

// WithRegistry injects the remap registry read paths consult and commits
// publish to. Open creates a private one when none is given.
func WithRegistry(r *remap.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithBusyTimeout sets the SQLite busy timeout in milliseconds.
func WithBusyTimeout(ms int) Option {
	return func(o *options) { o.busyTimeoutMS = ms }
}

// WithReaders caps the reader pool size.
func WithReaders(n int) Option {
	return func(o *options) { o.readers = n }
}

// WithLogger sets the logger for store diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithExtraDependents adds stores to the set a merge re-points, after the
// built-in ones.
func WithExtraDependents(deps ...OwnerRemapper) Option {
	return func(o *options) { o.extra = append(o.extra, deps...) }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// Every connection is configured through the DSN with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - a busy timeout (default 5s) for lock contention
//   - foreign key enforcement
//
// Open is idempotent - safe to call multiple times on the same file.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{
		driver:        DriverMattn,
		busyTimeoutMS: 5000,
		readers:       4,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = remap.New()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	writerDSN, err := buildDSN(o.driver, path, o.busyTimeoutMS, true)
	if err != nil {
		return nil, err
	}

	writer, err := openPool(o.driver, writerDSN, 1)
	if err != nil {
		return nil, err
	}

	if err := applySchema(writer); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	// An in-memory database is private to its connection, so readers must
	// share the writer.
	reader := writer
	if path != memoryPath {
		readerDSN, err := buildDSN(o.driver, path, o.busyTimeoutMS, false)
		if err != nil {
			writer.Close()
			return nil, err
		}
		reader, err = openPool(o.driver, readerDSN, o.readers)
		if err != nil {
			writer.Close()
			return nil, err
		}
	}

	s := &Store{
		writer:   writer,
		reader:   reader,
		driver:   o.driver,
		registry: o.registry,
		logger:   o.logger,
	}
	s.dependents = append(defaultDependents(), o.extra...)
	s.threaded = defaultThreadRemappers()
	return s, nil
}

func openPool(driver, dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	return db, nil
}

// buildDSN renders the per-connection configuration for the chosen driver.
// The two drivers spell the same pragmas differently.
func buildDSN(driver, path string, busyTimeoutMS int, immediate bool) (string, error) {
	q := url.Values{}
	switch driver {
	case DriverMattn:
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
		q.Set("_busy_timeout", fmt.Sprint(busyTimeoutMS))
		q.Set("_foreign_keys", "on")
	case DriverModernc:
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
		q.Add("_pragma", "foreign_keys(1)")
	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
	if immediate {
		q.Set("_txlock", "immediate")
	}

	if path == memoryPath {
		return "file::memory:?" + q.Encode(), nil
	}
	return "file:" + strings.ReplaceAll(path, "?", "%3f") + "?" + q.Encode(), nil
}

// Close closes both pools.
func (s *Store) Close() error {
	if s.writer == nil {
		return nil
	}
	var errs []error
	if s.reader != s.writer {
		errs = append(errs, s.reader.Close())
	}
	errs = append(errs, s.writer.Close())
	return errors.Join(errs...)
}

// DB returns the reader pool for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.reader
}

// Driver returns the database/sql driver name in use.
func (s *Store) Driver() string {
	return s.driver
}

// Registry returns the remap registry this store publishes to.
func (s *Store) Registry() *remap.Registry {
	return s.registry
}

// Dependents returns the stores re-pointed during a recipient merge.
func (s *Store) Dependents() []OwnerRemapper {
	return s.dependents
}

// Query executes a read query against the reader pool.
// Callers are responsible for closing the returned rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.reader.QueryContext(ctx, query, args...)
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes the recipient columns that a merge rewrites, so a
// cascade over a large message history stays an index scan.
func migrateToV1(db *sql.DB) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_messages_quote_author ON messages(quote_author)`,
		`CREATE INDEX IF NOT EXISTS idx_mentions_recipient ON mentions(recipient_id)`,
		`CREATE INDEX IF NOT EXISTS idx_mentions_thread ON mentions(thread_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reactions_author ON reactions(author_id)`,
		`CREATE INDEX IF NOT EXISTS idx_group_receipts_recipient ON group_receipts(recipient_id)`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_recipient ON group_members(recipient_id)`,
		`CREATE INDEX IF NOT EXISTS idx_msl_recipients_recipient ON msl_recipients(recipient_id)`,
		`CREATE INDEX IF NOT EXISTS idx_np_members_recipient ON notification_profile_allowed_members(recipient_id)`,
		`CREATE INDEX IF NOT EXISTS idx_dl_members_recipient ON distribution_list_members(recipient_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value on the
// reader pool. Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.reader.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
