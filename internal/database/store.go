package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationFS embed.FS

// SchemaVersion is the migration version this build expects the store to be at.
const SchemaVersion = 3

// Collection names. Each is a table keyed by (user_id, test_id, test_mode, parts_key).
const (
	CollectionTestSessions    = "test_sessions"
	CollectionWritingSessions = "writing_sessions"
)

// ErrStoreUnavailable wraps every failure to open the durable store.
var ErrStoreUnavailable = errors.New("session store unavailable")

// Dialect selects the SQL engine behind the store.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect validates a configured driver name.
func ParseDialect(raw string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqlite", "sqlite3", "":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported store driver %q", raw)
	}
}

func (d Dialect) sqlDriver() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Dialect) placeholder() sq.PlaceholderFormat {
	if d == DialectPostgres {
		return sq.Dollar
	}
	return sq.Question
}

// Store is the schema-versioned durable database holding both session collections.
// The underlying pool is opened lazily, so a store that is unavailable at boot
// can recover on a later call.
type Store struct {
	dialect Dialect
	dsn     string
	log     zerolog.Logger

	mu sync.Mutex
	db *sql.DB
}

// NewStore creates a store for dsn. No connection is made until the first Open.
func NewStore(dialect Dialect, dsn string, log zerolog.Logger) *Store {
	return &Store{
		dialect: dialect,
		dsn:     dsn,
		log:     log.With().Str("component", "session_store").Logger(),
	}
}

// NewStoreWithDB wraps an already opened pool whose schema is managed elsewhere.
func NewStoreWithDB(db *sql.DB, dialect Dialect, log zerolog.Logger) *Store {
	s := NewStore(dialect, "", log)
	s.db = db
	return s
}

// Dialect reports the SQL engine in use.
func (s *Store) Dialect() Dialect { return s.dialect }

// Open returns a handle over one dedicated connection, creating or upgrading
// the schema first if needed. The caller must Close the handle.
func (s *Store) Open(ctx context.Context) (*Handle, error) {
	db, err := s.ensure(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection: %v", ErrStoreUnavailable, err)
	}
	return &Handle{conn: conn, builder: sq.StatementBuilder.PlaceholderFormat(s.dialect.placeholder())}, nil
}

// Run opens a handle, runs fn with it and closes the handle on every exit path.
func (s *Store) Run(ctx context.Context, fn func(ctx context.Context, h *Handle) error) (err error) {
	h, err := s.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := h.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close handle: %w", cerr)
		}
	}()
	return fn(ctx, h)
}

// Close releases the pool. The store may be reopened by a later Open.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) ensure(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}

	if s.dialect == DialectSQLite {
		if err := ensureSQLiteDir(s.dsn); err != nil {
			return nil, err
		}
	}

	if err := Migrate(s.dialect, s.dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open(s.dialect.sqlDriver(), s.dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.dialect, err)
	}
	if s.dialect == DialectSQLite {
		// One writer at a time; concurrent sqlite writers only produce SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", s.dialect, err)
	}

	s.log.Info().
		Str("dialect", string(s.dialect)).
		Int("schema_version", SchemaVersion).
		Msg("Session store opened")

	s.db = db
	return db, nil
}

// Migrate brings the schema at dsn up to SchemaVersion. Existing tables are
// left untouched, so running it repeatedly is harmless.
func Migrate(dialect Dialect, dsn string) error {
	m, err := NewMigrator(dialect, dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// NewMigrator builds a migrate instance over the embedded migrations for dialect.
// Closing it also closes its private connection.
func NewMigrator(dialect Dialect, dsn string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFS, "migrations/"+string(dialect))
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}

	db, err := sql.Open(dialect.sqlDriver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s for migration: %w", dialect, err)
	}

	var m *migrate.Migrate
	switch dialect {
	case DialectPostgres:
		drv, derr := migratepgx.WithInstance(db, &migratepgx.Config{})
		if derr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migration driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "pgx5", drv)
	default:
		drv, derr := migratesqlite.WithInstance(db, &migratesqlite.Config{})
		if derr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migration driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite", drv)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init migrator: %w", err)
	}
	return m, nil
}

// RedactDSN hides passwords in a URL or key=value connection string so the
// result can be shown to an operator.
func RedactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.Host != "" {
		q := u.Query()
		if q.Has("password") {
			q.Set("password", "xxxxx")
			u.RawQuery = q.Encode()
		}
		return u.Redacted()
	}

	fields := strings.Fields(dsn)
	redacted := false
	for i, f := range fields {
		if k, _, ok := strings.Cut(f, "="); ok && strings.EqualFold(k, "password") {
			fields[i] = k + "=xxxxx"
			redacted = true
		}
	}
	if !redacted {
		return dsn
	}
	return strings.Join(fields, " ")
}

func ensureSQLiteDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || strings.HasPrefix(path, ":memory:") {
		return errors.New("sqlite store needs a file path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}

// Handle is one open connection scoped to a single unit of work.
type Handle struct {
	conn    *sql.Conn
	builder sq.StatementBuilderType
}

// SQL returns a statement builder using the dialect's placeholders.
func (h *Handle) SQL() sq.StatementBuilderType { return h.builder }

// Exec runs a statement built with SQL().
func (h *Handle) Exec(ctx context.Context, stmt sq.Sqlizer) (sql.Result, error) {
	query, args, err := stmt.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build statement: %w", err)
	}
	return h.conn.ExecContext(ctx, query, args...)
}

// Query runs a query built with SQL(). The caller closes the rows.
func (h *Handle) Query(ctx context.Context, stmt sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := stmt.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return h.conn.QueryContext(ctx, query, args...)
}

// Scan runs a single-row query; sql.ErrNoRows is returned unwrapped.
func (h *Handle) Scan(ctx context.Context, stmt sq.Sqlizer, dest ...any) error {
	query, args, err := stmt.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return h.conn.QueryRowContext(ctx, query, args...).Scan(dest...)
}

// Close returns the connection to the pool.
func (h *Handle) Close() error {
	return h.conn.Close()
}
