package hookpipeline

import "testing"

func TestExtractDurationMs_PrefersExplicitSnakeCaseField(t *testing.T) {
	snake := 120.0
	camel := 999.0
	in := Input{DurationMs: &snake, DurationMsCamel: &camel, Timing: map[string]any{"duration_ms": 1.0}}
	got, ok := extractDurationMs(in)
	if !ok || got != 120.0 {
		t.Fatalf("expected 120.0, got %v ok=%v", got, ok)
	}
}

func TestExtractDurationMs_FallsBackToCamelCaseField(t *testing.T) {
	camel := 250.0
	in := Input{DurationMsCamel: &camel}
	got, ok := extractDurationMs(in)
	if !ok || got != 250.0 {
		t.Fatalf("expected 250.0, got %v ok=%v", got, ok)
	}
}

func TestExtractDurationMs_FallsBackToTimingMap(t *testing.T) {
	in := Input{Timing: map[string]any{"total_ms": 42.0}}
	got, ok := extractDurationMs(in)
	if !ok || got != 42.0 {
		t.Fatalf("expected 42.0, got %v ok=%v", got, ok)
	}
}

func TestExtractDurationMs_DerivesFromTimestamps(t *testing.T) {
	in := Input{StartedAt: "2026-08-06T10:00:00Z", EndedAt: "2026-08-06T10:00:01.5Z"}
	got, ok := extractDurationMs(in)
	if !ok || got != 1500.0 {
		t.Fatalf("expected 1500.0, got %v ok=%v", got, ok)
	}
}

func TestExtractDurationMs_NoUsableFieldsIsNotOK(t *testing.T) {
	if _, ok := extractDurationMs(Input{}); ok {
		t.Fatal("expected not-ok with no timing data")
	}
}

func TestValidDuration_DiscardsNegative(t *testing.T) {
	if _, ok := validDuration(-1); ok {
		t.Fatal("expected negative duration to be discarded")
	}
}

func TestValidDuration_DiscardsAboveMax(t *testing.T) {
	if _, ok := validDuration(maxDurationMs + 1); ok {
		t.Fatal("expected duration above max to be discarded")
	}
	if _, ok := validDuration(maxDurationMs); !ok {
		t.Fatal("expected duration at max to be accepted")
	}
}
