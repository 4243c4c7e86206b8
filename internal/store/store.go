// Package store owns the single-writer SQLite handle backing a project's
// .khoregos database: connection lifecycle, pragmas, versioned migrations,
// and identifier-safe generic CRUD.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Sentinel errors for the Store error kind (spec §7): identifier validation
// failures are returned before any query is built.
var (
	ErrUnknownTable     = errors.New("unknown table")
	ErrUnknownColumn    = errors.New("unknown column")
	ErrUnsafeIdentifier = errors.New("identifier does not match ^[a-z][a-z0-9_]*$")
)

var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// schema is the compiled-in table/column allow-list. Every method that
// substitutes a table or column name into SQL validates against this
// before building the query.
var schema = map[string][]string{
	"sessions": {
		"id", "objective", "state", "started_at", "ended_at", "parent_session_id",
		"config_snapshot", "context_summary", "metadata", "operator", "hostname",
		"k6s_version", "agent_runtime_version", "git_branch", "git_sha", "git_dirty",
		"trace_id",
	},
	"agents": {
		"id", "session_id", "name", "role", "specialization", "state", "spawned_at",
		"boundary_config", "metadata", "external_session_id", "tool_call_count",
	},
	"audit_events": {
		"id", "sequence", "session_id", "agent_id", "timestamp", "event_type", "action",
		"details", "files_affected", "gate_id", "hmac", "severity",
	},
	"context_store": {
		"key", "session_id", "agent_id", "value", "updated_at",
	},
	"file_locks": {
		"path", "session_id", "agent_id", "acquired_at", "expires_at",
	},
	"boundary_violations": {
		"id", "session_id", "agent_id", "timestamp", "file_path", "violation_type",
		"enforcement_action", "details",
	},
	"schema_migrations": {
		"version", "applied_at",
	},
}

func validateTable(table string) error {
	if !identifierPattern.MatchString(table) {
		return fmt.Errorf("store: table %q: %w", table, ErrUnsafeIdentifier)
	}
	if _, ok := schema[table]; !ok {
		return fmt.Errorf("store: table %q: %w", table, ErrUnknownTable)
	}
	return nil
}

func validateColumn(table, column string) error {
	if !identifierPattern.MatchString(column) {
		return fmt.Errorf("store: column %q: %w", column, ErrUnsafeIdentifier)
	}
	cols, ok := schema[table]
	if !ok {
		return fmt.Errorf("store: table %q: %w", table, ErrUnknownTable)
	}
	for _, c := range cols {
		if c == column {
			return nil
		}
	}
	return fmt.Errorf("store: column %q on table %q: %w", column, table, ErrUnknownColumn)
}

// Store is the single-writer handle for a project's .khoregos/k6s.db.
type Store struct {
	mu   sync.Mutex
	path string
	db   *sql.DB
}

// Path returns the location of the SQLite database file within a project's
// .khoregos directory.
func Path(stateDir string) string {
	return filepath.Join(stateDir, "k6s.db")
}

// New returns a Store bound to the given state directory. The connection is
// established lazily on first use (Connect or any query method).
func New(stateDir string) *Store {
	return &Store{path: Path(stateDir)}
}

// Connect creates the containing directory (mode 0700), opens the database
// file (mode 0600), applies pragmas, and runs any unapplied migrations. It
// is idempotent: calling it again on an already-open Store is a no-op.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Store) connectLocked(ctx context.Context) error {
	if s.db != nil {
		return nil
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("store: create state dir: %w", err)
	}

	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR, 0o600)
		if err != nil {
			return fmt.Errorf("store: create db file: %w", err)
		}
		_ = f.Close()
	} else if err := os.Chmod(s.path, 0o600); err != nil {
		return fmt.Errorf("store: chmod db file: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", s.path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("store: open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return fmt.Errorf("store: set journal_mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous=FULL;"); err != nil {
		_ = db.Close()
		return fmt.Errorf("store: set synchronous: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		_ = db.Close()
		return fmt.Errorf("store: set foreign_keys: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("store: migrate: %w", err)
	}

	s.db = db
	return nil
}

// Close releases the underlying connection. A subsequent query lazily
// reconnects.
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

// DB returns the underlying *sql.DB, connecting first if necessary. Callers
// that need raw SQL (e.g. index-backed lookups) use this directly; callers
// that substitute identifiers use the validated helpers below.
func (s *Store) DB(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connectLocked(ctx); err != nil {
		return nil, err
	}
	return s.db, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting the CRUD helpers
// run either standalone or inside Transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Insert inserts a row and returns its rowid. Column names in values are
// validated against the allow-list before the statement is built.
func (s *Store) Insert(ctx context.Context, table string, values map[string]any) (int64, error) {
	db, err := s.DB(ctx)
	if err != nil {
		return 0, err
	}
	return insert(ctx, db, table, values, false)
}

// InsertOrReplace behaves like Insert but uses INSERT OR REPLACE, for
// upsert-by-primary-key semantics (e.g. context_store, file_locks).
func (s *Store) InsertOrReplace(ctx context.Context, table string, values map[string]any) (int64, error) {
	db, err := s.DB(ctx)
	if err != nil {
		return 0, err
	}
	return insert(ctx, db, table, values, true)
}

func insert(ctx context.Context, e execer, table string, values map[string]any, replace bool) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}
	cols := make([]string, 0, len(values))
	for col := range values {
		if err := validateColumn(table, col); err != nil {
			return 0, err
		}
		cols = append(cols, col)
	}
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = "?"
		args[i] = values[col]
	}
	verb := "INSERT INTO"
	if replace {
		verb = "INSERT OR REPLACE INTO"
	}
	query := fmt.Sprintf("%s %s (%s) VALUES (%s);", verb, table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	var res sql.Result
	err := retryOnBusy(ctx, 5, func() error {
		var execErr error
		res, execErr = e.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("store: insert into %s: %w", table, err)
	}
	return res.LastInsertId()
}

// Update sets columns on rows matching where/params and returns the number
// of rows changed.
func (s *Store) Update(ctx context.Context, table string, set map[string]any, where string, params ...any) (int64, error) {
	db, err := s.DB(ctx)
	if err != nil {
		return 0, err
	}
	return update(ctx, db, table, set, where, params...)
}

func update(ctx context.Context, e execer, table string, set map[string]any, where string, params ...any) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}
	cols := make([]string, 0, len(set))
	for col := range set {
		if err := validateColumn(table, col); err != nil {
			return 0, err
		}
		cols = append(cols, col)
	}
	setClauses := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(params))
	for i, col := range cols {
		setClauses[i] = col + " = ?"
		args = append(args, set[col])
	}
	args = append(args, params...)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s;", table, strings.Join(setClauses, ", "), where)

	var res sql.Result
	err := retryOnBusy(ctx, 5, func() error {
		var execErr error
		res, execErr = e.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("store: update %s: %w", table, err)
	}
	return res.RowsAffected()
}

// Delete removes rows matching where/params and returns the number removed.
func (s *Store) Delete(ctx context.Context, table, where string, params ...any) (int64, error) {
	db, err := s.DB(ctx)
	if err != nil {
		return 0, err
	}
	return deleteRows(ctx, db, table, where, params...)
}

func deleteRows(ctx context.Context, e execer, table, where string, params ...any) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s;", table, where)

	var res sql.Result
	err := retryOnBusy(ctx, 5, func() error {
		var execErr error
		res, execErr = e.ExecContext(ctx, query, params...)
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("store: delete from %s: %w", table, err)
	}
	return res.RowsAffected()
}

// FetchOne runs a caller-supplied SELECT and scans the single result row.
// Free-form SQL (not identifier-substituted) is the caller's responsibility;
// this method only guards against a nil scan target.
func (s *Store) FetchOne(ctx context.Context, query string, params []any, dest ...any) error {
	db, err := s.DB(ctx)
	if err != nil {
		return err
	}
	return db.QueryRowContext(ctx, query, params...).Scan(dest...)
}

// FetchAll runs a caller-supplied SELECT and hands each row to scan. scan is
// invoked once per row; callers append to their own slice inside it.
func (s *Store) FetchAll(ctx context.Context, query string, params []any, scan func(*sql.Rows) error) error {
	db, err := s.DB(ctx)
	if err != nil {
		return err
	}
	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Tx exposes the identifier-validated CRUD helpers bound to a single
// transaction, for callers assembling several writes (e.g. AuditLogger.log,
// FileLockManager.acquire) that must commit atomically.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Insert(ctx context.Context, table string, values map[string]any) (int64, error) {
	return insert(ctx, t.tx, table, values, false)
}

func (t *Tx) InsertOrReplace(ctx context.Context, table string, values map[string]any) (int64, error) {
	return insert(ctx, t.tx, table, values, true)
}

func (t *Tx) Update(ctx context.Context, table string, set map[string]any, where string, params ...any) (int64, error) {
	return update(ctx, t.tx, table, set, where, params...)
}

func (t *Tx) Delete(ctx context.Context, table, where string, params ...any) (int64, error) {
	return deleteRows(ctx, t.tx, table, where, params...)
}

func (t *Tx) FetchOne(ctx context.Context, query string, params []any, dest ...any) error {
	return t.tx.QueryRowContext(ctx, query, params...).Scan(dest...)
}

func (t *Tx) FetchAll(ctx context.Context, query string, params []any, scan func(*sql.Rows) error) error {
	rows, err := t.tx.QueryContext(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// txKey is used to detect a Transaction call nested inside another,
// collapsing it into the outer transaction rather than starting a new one.
type txKey struct{}

// Transaction runs fn against a *Tx. A callback error aborts and rolls back;
// nested calls (fn itself calling Transaction on the same Store with a
// context derived from ctx) reuse the outer transaction instead of trying
// to begin a second one.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if existing, ok := ctx.Value(txKey{}).(*Tx); ok {
		return fn(ctx, existing)
	}

	db, err := s.DB(ctx)
	if err != nil {
		return err
	}

	return retryOnBusy(ctx, 5, func() error {
		sqlTx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("store: begin transaction: %w", err)
		}
		t := &Tx{tx: sqlTx}
		innerCtx := context.WithValue(ctx, txKey{}, t)

		if err := fn(innerCtx, t); err != nil {
			_ = sqlTx.Rollback()
			return err
		}
		if err := sqlTx.Commit(); err != nil {
			return fmt.Errorf("store: commit transaction: %w", err)
		}
		return nil
	})
}

// retryOnBusy retries f when SQLite reports BUSY or LOCKED, backing off with
// bounded jitter. maxRetries=5 gives roughly 3s of retrying on top of the
// driver's own 5s busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.Intn(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isSQLiteBusy checks the error string for a BUSY (5) or LOCKED (6) code,
// avoiding a direct dependency on the sqlite3 package's error type.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}
