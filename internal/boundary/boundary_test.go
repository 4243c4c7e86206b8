package boundary_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/basket/khoregos/internal/boundary"
	"github.com/basket/khoregos/internal/config"
	"github.com/basket/khoregos/internal/models"
	"github.com/basket/khoregos/internal/store"
)

func testBoundaries() []config.Boundary {
	return []config.Boundary{
		{
			Pattern:        "frontend-*",
			AllowedPaths:   []string{"src/frontend/**", "src/shared/**"},
			ForbiddenPaths: []string{".env*", "src/backend/**"},
			Enforcement:    "advisory",
		},
		{
			Pattern:        "backend-*",
			AllowedPaths:   []string{"src/backend/**", "src/shared/**"},
			ForbiddenPaths: []string{".env*"},
			Enforcement:    "advisory",
		},
		{
			Pattern:        "*",
			ForbiddenPaths: []string{".env*", "**/*.pem", "**/*.key"},
			Enforcement:    "advisory",
		},
	}
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(t.TempDir())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetBoundaryForAgent_MatchesSpecificPatternBeforeWildcard(t *testing.T) {
	e := boundary.New(openTestStore(t), "sess-1", t.TempDir(), testBoundaries())

	frontend, found := e.GetBoundaryForAgent("frontend-dev")
	if !found || frontend.Pattern != "frontend-*" {
		t.Fatalf("expected frontend-* match, got %+v found=%v", frontend, found)
	}

	other, found := e.GetBoundaryForAgent("some-other-agent")
	if !found || other.Pattern != "*" {
		t.Fatalf("expected wildcard fallback, got %+v found=%v", other, found)
	}
}

func TestCheckPathAllowed_AllowsMatchingAllowedPath(t *testing.T) {
	root := t.TempDir()
	e := boundary.New(openTestStore(t), "sess-1", root, testBoundaries())

	allowed, reason := e.CheckPathAllowed("src/frontend/App.tsx", "frontend-dev")
	if !allowed {
		t.Fatalf("expected allowed, got denied: %s", reason)
	}
}

func TestCheckPathAllowed_DeniesForbiddenPathEvenIfInAllowedTree(t *testing.T) {
	root := t.TempDir()
	e := boundary.New(openTestStore(t), "sess-1", root, testBoundaries())

	allowed, reason := e.CheckPathAllowed("src/backend/config.py", "frontend-dev")
	if allowed {
		t.Fatal("expected denial for path outside allowed_paths")
	}
	if reason == "" {
		t.Fatal("expected a reason")
	}
}

func TestCheckPathAllowed_ForbiddenDotfilePatternMatchesLeadingDot(t *testing.T) {
	root := t.TempDir()
	e := boundary.New(openTestStore(t), "sess-1", root, testBoundaries())

	allowed, reason := e.CheckPathAllowed("src/frontend/.env.local", "frontend-dev")
	if allowed {
		t.Fatal("expected .env* to deny a dotfile")
	}
	if reason == "" {
		t.Fatal("expected a reason")
	}
}

func TestCheckPathAllowed_DoubleStarMatchesNestedKeyFiles(t *testing.T) {
	root := t.TempDir()
	e := boundary.New(openTestStore(t), "sess-1", root, testBoundaries())

	allowed, _ := e.CheckPathAllowed("deploy/certs/server.key", "unmatched-agent")
	if allowed {
		t.Fatal("expected **/*.key to deny a deeply nested key file")
	}
}

func TestCheckPathAllowed_DeniesPathOutsideProjectRoot(t *testing.T) {
	root := t.TempDir()
	e := boundary.New(openTestStore(t), "sess-1", root, testBoundaries())

	allowed, reason := e.CheckPathAllowed(filepath.Join(root, "..", "escaped.txt"), "frontend-dev")
	if allowed {
		t.Fatal("expected denial for a path outside the project root")
	}
	if reason != "outside project root" {
		t.Fatalf("expected outside project root reason, got %q", reason)
	}
}

func TestCheckPathAllowed_NoBoundaryConfiguredDeniesByDefault(t *testing.T) {
	root := t.TempDir()
	e := boundary.New(openTestStore(t), "sess-1", root, nil)

	allowed, reason := e.CheckPathAllowed("anything.txt", "any-agent")
	if allowed {
		t.Fatal("expected denial when no boundary is configured")
	}
	if reason != "no boundary configured" {
		t.Fatalf("expected no boundary configured reason, got %q", reason)
	}
}

func TestRecordAndGetViolations_OrdersDescendingByTimestamp(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if _, err := s.Insert(ctx, "sessions", map[string]any{
		"id": "sess-1", "state": "active", "started_at": "2026-01-01T00:00:00.000000000Z",
	}); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	e := boundary.New(s, "sess-1", t.TempDir(), testBoundaries())

	for _, path := range []string{"a.env", "b.env"} {
		if _, err := e.RecordViolation(ctx, boundary.RecordViolationInput{
			FilePath:          path,
			ViolationType:     models.ViolationForbiddenPath,
			EnforcementAction: models.EnforcementLogged,
		}); err != nil {
			t.Fatalf("record violation for %s: %v", path, err)
		}
	}

	violations, err := e.GetViolations(ctx, "", 0)
	if err != nil {
		t.Fatalf("get violations: %v", err)
	}
	if len(violations) != 2 {
		t.Fatalf("expected 2 violations, got %d", len(violations))
	}
}

func TestGetAgentBoundariesSummary_UnmatchedAgentDeniesEverything(t *testing.T) {
	e := boundary.New(openTestStore(t), "sess-1", t.TempDir(), nil)
	summary := e.GetAgentBoundariesSummary("ghost")
	if summary.HasBoundary {
		t.Fatal("expected has_boundary=false")
	}
	if summary.Enforcement != "deny" {
		t.Fatalf("expected enforcement deny, got %q", summary.Enforcement)
	}
}

func TestRevertFile_TrackedFileRestoresFromGitAndReportsViolatingContent(t *testing.T) {
	root := t.TempDir()
	if err := runGit(root, "init"); err != nil {
		t.Skipf("git unavailable: %v", err)
	}
	_ = runGit(root, "config", "user.email", "test@example.com")
	_ = runGit(root, "config", "user.name", "test")

	target := filepath.Join(root, "tracked.txt")
	if err := os.WriteFile(target, []byte("committed"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := runGit(root, "add", "tracked.txt"); err != nil {
		t.Fatalf("git add: %v", err)
	}
	if err := runGit(root, "commit", "-m", "initial"); err != nil {
		t.Skipf("git commit unavailable: %v", err)
	}

	if err := os.WriteFile(target, []byte("violating change"), 0o644); err != nil {
		t.Fatalf("overwrite file: %v", err)
	}

	violating := boundary.RevertFile(context.Background(), target, root)
	if string(violating) != "violating change" {
		t.Fatalf("expected captured violating content, got %q", violating)
	}

	restored, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(restored) != "committed" {
		t.Fatalf("expected file restored to committed content, got %q", restored)
	}
}

func TestRevertFile_UntrackedFileIsDeleted(t *testing.T) {
	root := t.TempDir()
	if err := runGit(root, "init"); err != nil {
		t.Skipf("git unavailable: %v", err)
	}

	target := filepath.Join(root, "scratch.txt")
	if err := os.WriteFile(target, []byte("new file"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	violating := boundary.RevertFile(context.Background(), target, root)
	if string(violating) != "new file" {
		t.Fatalf("expected captured content, got %q", violating)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatal("expected untracked file to be deleted")
	}
}

func runGit(dir string, args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	return cmd.Run()
}
