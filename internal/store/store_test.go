package store_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/khoregos/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s := store.New(dir)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func queryOneString(t *testing.T, db *sql.DB, q string) string {
	t.Helper()
	var out string
	if err := db.QueryRow(q).Scan(&out); err != nil {
		t.Fatalf("query %q: %v", q, err)
	}
	return out
}

func TestConnect_ConfiguresPragmasAndSchema(t *testing.T) {
	s := openTestStore(t)
	db, err := s.DB(context.Background())
	if err != nil {
		t.Fatalf("db: %v", err)
	}

	if journal := queryOneString(t, db, "PRAGMA journal_mode;"); journal != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journal)
	}
	var synchronous int
	if err := db.QueryRow("PRAGMA synchronous;").Scan(&synchronous); err != nil {
		t.Fatalf("pragma synchronous: %v", err)
	}
	if synchronous != 2 {
		t.Fatalf("expected synchronous FULL(2), got %d", synchronous)
	}
	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys;").Scan(&fk); err != nil {
		t.Fatalf("pragma foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Fatalf("expected foreign_keys=1, got %d", fk)
	}

	requiredTables := []string{
		"schema_migrations", "sessions", "agents", "audit_events",
		"context_store", "file_locks", "boundary_violations",
	}
	for _, table := range requiredTables {
		var got string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&got); err != nil {
			t.Fatalf("table %s not found: %v", table, err)
		}
	}
}

func TestConnect_CreatesDirAndFileWithRestrictiveModes(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, ".khoregos")
	s := store.New(stateDir)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	dirInfo, err := os.Stat(stateDir)
	if err != nil {
		t.Fatalf("stat state dir: %v", err)
	}
	if perm := dirInfo.Mode().Perm(); perm != 0o700 {
		t.Fatalf("expected state dir mode 0700, got %o", perm)
	}

	fileInfo, err := os.Stat(store.Path(stateDir))
	if err != nil {
		t.Fatalf("stat db file: %v", err)
	}
	if perm := fileInfo.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected db file mode 0600, got %o", perm)
	}
}

func TestConnect_Idempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}
}

func TestClose_LazilyReconnects(t *testing.T) {
	s := openTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.Insert(context.Background(), "sessions", map[string]any{
		"id": "sess-1", "state": "created", "started_at": "2026-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("insert after close should reconnect: %v", err)
	}
}

func TestInsert_RejectsUnknownTable(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Insert(context.Background(), "not_a_table", map[string]any{"id": "x"})
	if !errors.Is(err, store.ErrUnknownTable) {
		t.Fatalf("expected ErrUnknownTable, got %v", err)
	}
}

func TestInsert_RejectsUnknownColumn(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Insert(context.Background(), "sessions", map[string]any{"not_a_column": "x"})
	if !errors.Is(err, store.ErrUnknownColumn) {
		t.Fatalf("expected ErrUnknownColumn, got %v", err)
	}
}

func TestInsert_RejectsUnsafeIdentifier(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Insert(context.Background(), "sessions; DROP TABLE sessions", map[string]any{"id": "x"})
	if !errors.Is(err, store.ErrUnsafeIdentifier) {
		t.Fatalf("expected ErrUnsafeIdentifier, got %v", err)
	}
}

func TestInsertAndFetchOne_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Insert(ctx, "sessions", map[string]any{
		"id": "sess-1", "objective": "test run", "state": "created", "started_at": "2026-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var objective string
	if err := s.FetchOne(ctx, "SELECT objective FROM sessions WHERE id = ?", []any{"sess-1"}, &objective); err != nil {
		t.Fatalf("fetch one: %v", err)
	}
	if objective != "test run" {
		t.Fatalf("expected objective='test run', got %q", objective)
	}
}

func TestInsertOrReplace_Upserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.InsertOrReplace(ctx, "file_locks", map[string]any{
		"path": "/a/b", "session_id": "s1", "agent_id": "coder",
		"acquired_at": "2026-01-01T00:00:00Z", "expires_at": "2026-01-01T00:05:00Z",
	}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := s.InsertOrReplace(ctx, "file_locks", map[string]any{
		"path": "/a/b", "session_id": "s1", "agent_id": "writer",
		"acquired_at": "2026-01-01T00:10:00Z", "expires_at": "2026-01-01T00:15:00Z",
	}); err != nil {
		t.Fatalf("replace insert: %v", err)
	}
	var agentID string
	if err := s.FetchOne(ctx, "SELECT agent_id FROM file_locks WHERE path = ?", []any{"/a/b"}, &agentID); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if agentID != "writer" {
		t.Fatalf("expected replaced agent_id=writer, got %q", agentID)
	}
}

func TestUpdateAndDelete_ReturnRowsAffected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Insert(ctx, "sessions", map[string]any{
		"id": "sess-1", "state": "created", "started_at": "2026-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := s.Update(ctx, "sessions", map[string]any{"state": "active"}, "id = ?", "sess-1")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row updated, got %d", n)
	}

	n, err = s.Delete(ctx, "sessions", "id = ?", "sess-1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row deleted, got %d", n)
	}
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	wantErr := errors.New("boom")
	err := s.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		if _, err := tx.Insert(ctx, "sessions", map[string]any{
			"id": "sess-1", "state": "created", "started_at": "2026-01-01T00:00:00Z",
		}); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped wantErr, got %v", err)
	}

	var count int
	if err := s.FetchOne(ctx, "SELECT COUNT(1) FROM sessions", nil, &count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback to leave 0 rows, got %d", count)
	}
}

func TestTransaction_NestedCallsCollapseToOuter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		if _, err := tx.Insert(ctx, "sessions", map[string]any{
			"id": "sess-1", "state": "created", "started_at": "2026-01-01T00:00:00Z",
		}); err != nil {
			return err
		}
		// Nested Transaction call must reuse the outer transaction rather
		// than deadlocking on the single-writer connection.
		return s.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
			_, err := tx.Update(ctx, "sessions", map[string]any{"state": "active"}, "id = ?", "sess-1")
			return err
		})
	})
	if err != nil {
		t.Fatalf("nested transaction: %v", err)
	}

	var state string
	if err := s.FetchOne(ctx, "SELECT state FROM sessions WHERE id = ?", []any{"sess-1"}, &state); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if state != "active" {
		t.Fatalf("expected state=active, got %q", state)
	}
}

func TestFetchAll_ScansEachRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"sess-1", "sess-2"} {
		if _, err := s.Insert(ctx, "sessions", map[string]any{
			"id": id, "state": "created", "started_at": "2026-01-01T00:00:00Z",
		}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	var ids []string
	err := s.FetchAll(ctx, "SELECT id FROM sessions ORDER BY id", nil, func(rows *sql.Rows) error {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		t.Fatalf("fetch all: %v", err)
	}
	if len(ids) != 2 || ids[0] != "sess-1" || ids[1] != "sess-2" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}
