package models_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/basket/khoregos/internal/models"
	"github.com/basket/khoregos/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(t.TempDir())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func scanOne(t *testing.T, db *sql.DB, table string, columns []string, scan func(*sql.Rows) error) {
	t.Helper()
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), table)
	rows, err := db.Query(q)
	if err != nil {
		t.Fatalf("query %s: %v", table, err)
	}
	defer rows.Close()
	if !rows.Next() {
		t.Fatalf("expected one row in %s", table)
	}
	if err := scan(rows); err != nil {
		t.Fatalf("scan %s: %v", table, err)
	}
}

func TestSession_RoundTripsThroughStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	db, _ := s.DB(ctx)

	summary := "wrapped up"
	original := models.Session{
		ID:             "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Objective:      "ship the sidecar",
		State:          models.SessionActive,
		StartedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ContextSummary: &summary,
		Metadata:       map[string]any{"host": "ci"},
		GitDirty:       true,
	}
	row, err := original.ToRow()
	if err != nil {
		t.Fatalf("to row: %v", err)
	}
	if _, err := s.Insert(ctx, "sessions", row); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var got models.Session
	scanOne(t, db, "sessions", models.SessionColumns, got.ScanRow)
	if got.ID != original.ID || got.Objective != original.Objective || got.State != original.State {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.GitDirty {
		t.Fatal("expected git_dirty=true to round trip")
	}
	if got.ContextSummary == nil || *got.ContextSummary != summary {
		t.Fatalf("expected context_summary to round trip, got %+v", got.ContextSummary)
	}
	if got.Metadata["host"] != "ci" {
		t.Fatalf("expected metadata to round trip, got %+v", got.Metadata)
	}
}

func TestSession_IsOpen(t *testing.T) {
	for _, tc := range []struct {
		state models.SessionState
		want  bool
	}{
		{models.SessionCreated, true},
		{models.SessionActive, true},
		{models.SessionPaused, false},
		{models.SessionCompleted, false},
		{models.SessionFailed, false},
	} {
		s := models.Session{State: tc.state}
		if s.IsOpen() != tc.want {
			t.Errorf("state=%s: expected IsOpen()=%v", tc.state, tc.want)
		}
	}
}

func TestAgent_RoundTripsThroughStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	db, _ := s.DB(ctx)

	if _, err := s.Insert(ctx, "sessions", map[string]any{
		"id": "sess-1", "state": "active", "started_at": "2026-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	original := models.Agent{
		ID:            "01AGENT000000000000000000",
		SessionID:     "sess-1",
		Name:          "coder",
		Role:          models.AgentRoleTeammate,
		State:         models.AgentActive,
		SpawnedAt:     time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC),
		Metadata:      map[string]any{"spawned_by": "hook"},
		ToolCallCount: 3,
	}
	row, err := original.ToRow()
	if err != nil {
		t.Fatalf("to row: %v", err)
	}
	if _, err := s.Insert(ctx, "agents", row); err != nil {
		t.Fatalf("insert agent: %v", err)
	}

	var got models.Agent
	scanOne(t, db, "agents", models.AgentColumns, got.ScanRow)
	if got.Name != "coder" || got.Role != models.AgentRoleTeammate || got.ToolCallCount != 3 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.IsActive() {
		t.Fatal("expected active agent to report IsActive()")
	}
}

func TestAuditEvent_RoundTripsThroughStoreWithDetailsAndFiles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	db, _ := s.DB(ctx)

	if _, err := s.Insert(ctx, "sessions", map[string]any{
		"id": "sess-1", "state": "active", "started_at": "2026-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	hmac := "deadbeef"
	original := models.AuditEvent{
		ID:            "01EVT0000000000000000000A",
		Sequence:      1,
		SessionID:     "sess-1",
		Timestamp:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EventType:     models.EventGateTriggered,
		Action:        "matched review rule env-files",
		Details:       map[string]any{"rule": "env-files"},
		FilesAffected: []string{".env.local"},
		HMAC:          &hmac,
		Severity:      models.SeverityWarning,
	}
	row, err := original.ToRow()
	if err != nil {
		t.Fatalf("to row: %v", err)
	}
	if _, err := s.Insert(ctx, "audit_events", row); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	var got models.AuditEvent
	scanOne(t, db, "audit_events", models.AuditEventColumns, got.ScanRow)
	if got.EventType != models.EventGateTriggered {
		t.Fatalf("expected event_type gate_triggered, got %q", got.EventType)
	}
	if got.EventType.DisplayName() != "sensitive_needs_review" {
		t.Fatalf("expected display name sensitive_needs_review, got %q", got.EventType.DisplayName())
	}
	if len(got.FilesAffected) != 1 || got.FilesAffected[0] != ".env.local" {
		t.Fatalf("expected files_affected to round trip, got %+v", got.FilesAffected)
	}
	if got.Details["rule"] != "env-files" {
		t.Fatalf("expected details to round trip, got %+v", got.Details)
	}
	if got.HMAC == nil || *got.HMAC != "deadbeef" {
		t.Fatalf("expected hmac to round trip, got %+v", got.HMAC)
	}
}

func TestFileLock_ExpiredHonorsNilAsLive(t *testing.T) {
	live := models.FileLock{Path: "/a", ExpiresAt: nil}
	if live.Expired(time.Now()) {
		t.Fatal("nil expires_at must never report expired")
	}

	past := time.Now().Add(-time.Minute)
	expired := models.FileLock{Path: "/a", ExpiresAt: &past}
	if !expired.Expired(time.Now()) {
		t.Fatal("expected lock with past expires_at to report expired")
	}
}

func TestContextEntry_RoundTripsThroughStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	db, _ := s.DB(ctx)

	value, _ := json.Marshal(map[string]any{"summary": "done"})
	original := models.ContextEntry{
		Key:       "summary",
		SessionID: "sess-1",
		Value:     value,
		UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if _, err := s.InsertOrReplace(ctx, "context_store", original.ToRow()); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var got models.ContextEntry
	scanOne(t, db, "context_store", models.ContextEntryColumns, got.ScanRow)
	if got.Key != "summary" || string(got.Value) != string(value) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestBoundaryViolation_RoundTripsThroughStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	db, _ := s.DB(ctx)

	original := models.BoundaryViolation{
		ID:                "01VIO0000000000000000000A",
		SessionID:         "sess-1",
		Timestamp:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		FilePath:          ".env.local",
		ViolationType:     models.ViolationForbiddenPath,
		EnforcementAction: models.EnforcementReverted,
		Details:           map[string]any{"original_content": "SECRET=1"},
	}
	row, err := original.ToRow()
	if err != nil {
		t.Fatalf("to row: %v", err)
	}
	if _, err := s.Insert(ctx, "boundary_violations", row); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var got models.BoundaryViolation
	scanOne(t, db, "boundary_violations", models.BoundaryViolationColumns, got.ScanRow)
	if got.ViolationType != models.ViolationForbiddenPath || got.EnforcementAction != models.EnforcementReverted {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Details["original_content"] != "SECRET=1" {
		t.Fatalf("expected details to round trip, got %+v", got.Details)
	}
}
