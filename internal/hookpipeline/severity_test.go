package hookpipeline

import (
	"testing"

	"github.com/basket/khoregos/internal/models"
)

func TestClassifySeverity_CriticalPathPattern(t *testing.T) {
	got := classifySeverity([]string{".env.production"}, "tool_use: write", false)
	if got != models.SeverityCritical {
		t.Fatalf("expected critical, got %s", got)
	}
}

func TestClassifySeverity_BoundaryFlaggedIsAlwaysCritical(t *testing.T) {
	got := classifySeverity([]string{"src/normal.go"}, "tool_use: write", true)
	if got != models.SeverityCritical {
		t.Fatalf("expected critical, got %s", got)
	}
}

func TestClassifySeverity_DependencyManifestIsWarning(t *testing.T) {
	got := classifySeverity([]string{"package.json"}, "tool_use: write", false)
	if got != models.SeverityWarning {
		t.Fatalf("expected warning, got %s", got)
	}
}

func TestClassifySeverity_DangerousCommandIsWarning(t *testing.T) {
	got := classifySeverity([]string{"src/normal.go"}, "tool_use: bash - rm -rf build/", false)
	if got != models.SeverityWarning {
		t.Fatalf("expected warning, got %s", got)
	}
}

func TestClassifySeverity_OrdinaryCallIsInfo(t *testing.T) {
	got := classifySeverity([]string{"src/normal.go"}, "tool_use: edit - src/normal.go", false)
	if got != models.SeverityInfo {
		t.Fatalf("expected info, got %s", got)
	}
}
