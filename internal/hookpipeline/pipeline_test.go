package hookpipeline_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/khoregos/internal/config"
	"github.com/basket/khoregos/internal/hookpipeline"
	"github.com/basket/khoregos/internal/models"
	"github.com/basket/khoregos/internal/state"
	"github.com/basket/khoregos/internal/store"
)

// testProject builds a project root with a running daemon and an active
// session, returning the root, the store, and the session id, ready for a
// hook payload to be run against.
func testProject(t *testing.T, configYAML string) (root string, s *store.Store, sessionID string) {
	t.Helper()
	root = t.TempDir()

	if configYAML != "" {
		if err := os.WriteFile(filepath.Join(root, "k6s.yaml"), []byte(configYAML), 0o644); err != nil {
			t.Fatalf("write k6s.yaml: %v", err)
		}
	}

	s = store.New(config.StateDir(root))
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	mgr := state.New(s)
	session, err := mgr.CreateSession(context.Background(), state.CreateSessionInput{Objective: "test"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := mgr.MarkSessionActive(context.Background(), session.ID); err != nil {
		t.Fatalf("mark session active: %v", err)
	}

	if err := state.NewDaemonState(config.StateDir(root)).Write(state.Fields{SessionID: session.ID}); err != nil {
		t.Fatalf("write daemon state: %v", err)
	}

	return root, s, session.ID
}

func testPipeline(t *testing.T) *hookpipeline.Pipeline {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return hookpipeline.New(logger, nil, nooptrace.NewTracerProvider().Tracer("test"), nil)
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("git %v unavailable: %v: %s", args, err, out)
	}
}

func countRows(t *testing.T, s *store.Store, table, where string, args ...any) int {
	t.Helper()
	db, err := s.DB(context.Background())
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

// TestStrictModeRevertsForbiddenWrite reproduces Scenario E: a strict
// boundary forbids .env* files, and a Write to .env.local is reverted and
// recorded as a critical boundary_violation.
func TestStrictModeRevertsForbiddenWrite(t *testing.T) {
	yaml := `
boundaries:
  - pattern: "*"
    allowed_paths: ["**"]
    forbidden_paths: [".env*"]
    enforcement: strict
`
	root, s, _ := testProject(t, yaml)
	runGit(t, root, "init")
	_ = exec.Command("git", "-C", root, "config", "user.email", "test@example.com").Run()
	_ = exec.Command("git", "-C", root, "config", "user.name", "test").Run()

	target := filepath.Join(root, ".env.local")
	if err := os.WriteFile(target, []byte("SECRET=1"), 0o644); err != nil {
		t.Fatalf("write target: %v", err)
	}

	payload, _ := json.Marshal(map[string]any{
		"tool_name":   "Write",
		"tool_input":  map[string]any{"path": ".env.local"},
		"session_id":  "ext-1",
		"tool_use_id": "t-1",
	})

	testPipeline(t).Run(context.Background(), root, payload)

	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("expected .env.local to be removed after revert, stat err=%v", err)
	}

	if n := countRows(t, s, "boundary_violations", "enforcement_action = ? AND violation_type = ?",
		string(models.EnforcementReverted), string(models.ViolationForbiddenPath)); n != 1 {
		t.Fatalf("expected one reverted/forbidden_path violation row, got %d", n)
	}

	if n := countRows(t, s, "audit_events", "event_type = ? AND severity = ?",
		string(models.EventBoundaryViolation), string(models.SeverityCritical)); n != 1 {
		t.Fatalf("expected one critical boundary_violation audit event, got %d", n)
	}
}

// TestResourceLimitLogsOnce reproduces Scenario F: a boundary with
// max_tool_calls_per_session=2, pre-populated at count 2, logs exactly one
// warning boundary_violation event the first time it is exceeded and none
// on a subsequent call.
func TestResourceLimitLogsOnce(t *testing.T) {
	yaml := `
boundaries:
  - pattern: "*"
    enforcement: advisory
    max_tool_calls_per_session: 2
`
	root, s, sessionID := testProject(t, yaml)

	mgr := state.New(s)
	agent, err := mgr.RegisterAgent(context.Background(), state.RegisterAgentInput{
		SessionID: sessionID, Name: "primary", Role: models.AgentRoleLead,
	})
	if err != nil {
		t.Fatalf("register agent: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := mgr.IncrementToolCallCount(context.Background(), agent.ID); err != nil {
			t.Fatalf("prime tool call count: %v", err)
		}
	}

	payload, _ := json.Marshal(map[string]any{
		"tool_name":   "Read",
		"tool_input":  map[string]any{"path": "README.md"},
		"tool_use_id": "t-1",
	})

	p := testPipeline(t)
	p.Run(context.Background(), root, payload)
	if n := countRows(t, s, "audit_events", "event_type = ?", string(models.EventBoundaryViolation)); n != 1 {
		t.Fatalf("expected exactly one boundary_violation event after exceeding the limit, got %d", n)
	}

	var action string
	db, _ := s.DB(context.Background())
	if err := db.QueryRow("SELECT action FROM audit_events WHERE event_type = ?", string(models.EventBoundaryViolation)).Scan(&action); err != nil {
		t.Fatalf("read violation action: %v", err)
	}
	if !strings.Contains(action, "(3/2)") {
		t.Fatalf("expected action to mention (3/2), got %q", action)
	}

	p.Run(context.Background(), root, payload)
	if n := countRows(t, s, "audit_events", "event_type = ?", string(models.EventBoundaryViolation)); n != 1 {
		t.Fatalf("expected no additional boundary_violation event on the next call, got %d", n)
	}
}

// TestDependencyDiffLogsAddedRemovedUpdated reproduces Scenario G.
func TestDependencyDiffLogsAddedRemovedUpdated(t *testing.T) {
	root, s, _ := testProject(t, "")
	runGit(t, root, "init")
	_ = exec.Command("git", "-C", root, "config", "user.email", "test@example.com").Run()
	_ = exec.Command("git", "-C", root, "config", "user.name", "test").Run()

	pkgPath := filepath.Join(root, "package.json")
	previous := `{"dependencies":{"lodash":"^4.17.20","chalk":"^5.0.0"},"devDependencies":{"typescript":"^5.0.0","vitest":"^1.0.0"}}`
	if err := os.WriteFile(pkgPath, []byte(previous), 0o644); err != nil {
		t.Fatalf("write initial package.json: %v", err)
	}
	runGit(t, root, "add", "package.json")
	runGit(t, root, "commit", "-m", "initial")

	current := `{"dependencies":{"lodash":"^4.17.21","zod":"^3.24.2"},"devDependencies":{"typescript":"^5.0.0","vitest":"^3.0.5"}}`
	if err := os.WriteFile(pkgPath, []byte(current), 0o644); err != nil {
		t.Fatalf("overwrite package.json: %v", err)
	}

	payload, _ := json.Marshal(map[string]any{
		"tool_name":   "Write",
		"tool_input":  map[string]any{"path": "package.json"},
		"tool_use_id": "t-1",
	})

	testPipeline(t).Run(context.Background(), root, payload)

	rows, err := s.DB(context.Background())
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	got, err := rows.QueryContext(context.Background(),
		`SELECT event_type, action FROM audit_events WHERE event_type IN (?, ?, ?) ORDER BY sequence`,
		string(models.EventDependencyAdded), string(models.EventDependencyRemoved), string(models.EventDependencyUpdated))
	if err != nil {
		t.Fatalf("query dependency events: %v", err)
	}
	defer closeRows(t, got)

	var events []string
	for got.Next() {
		var eventType, action string
		if err := got.Scan(&eventType, &action); err != nil {
			t.Fatalf("scan: %v", err)
		}
		events = append(events, fmt.Sprintf("%s: %s", eventType, action))
	}

	if len(events) != 4 {
		t.Fatalf("expected exactly 4 dependency events, got %d: %v", len(events), events)
	}
	wantOrder := []string{
		string(models.EventDependencyUpdated), // lodash
		string(models.EventDependencyAdded),   // zod
		string(models.EventDependencyRemoved), // chalk
		string(models.EventDependencyUpdated), // vitest
	}
	for i, want := range wantOrder {
		if !strings.HasPrefix(events[i], want) {
			t.Fatalf("event %d: expected type %s, got %q", i, want, events[i])
		}
	}
}

func closeRows(t *testing.T, r *sql.Rows) {
	t.Helper()
	if err := r.Close(); err != nil {
		t.Fatalf("close rows: %v", err)
	}
}

// TestInternalToolIsANoOp confirms bookkeeping tool calls never reach the
// audit trail.
func TestInternalToolIsANoOp(t *testing.T) {
	root, s, _ := testProject(t, "")
	payload, _ := json.Marshal(map[string]any{"tool_name": "TodoWrite", "tool_input": map[string]any{}})
	testPipeline(t).Run(context.Background(), root, payload)
	if n := countRows(t, s, "audit_events", ""); n != 0 {
		t.Fatalf("expected no audit events for an internal tool, got %d", n)
	}
}

// TestNoRunningDaemonIsANoOp confirms a project with no active session
// produces no audit trail and no panic.
func TestNoRunningDaemonIsANoOp(t *testing.T) {
	root := t.TempDir()
	payload, _ := json.Marshal(map[string]any{"tool_name": "Read", "tool_input": map[string]any{"path": "a.go"}})
	testPipeline(t).Run(context.Background(), root, payload)
}
