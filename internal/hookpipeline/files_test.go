package hookpipeline

import (
	"reflect"
	"testing"
)

func TestFilesAffected_DirectFieldWins(t *testing.T) {
	got := filesAffected("Edit", map[string]any{"file_path": "src/a.go", "command": "rm -rf /"})
	want := []string{"src/a.go"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFilesAffected_ShellHeuristicExtractsPaths(t *testing.T) {
	got := filesAffected("Bash", map[string]any{"command": "rm -rf src/tmp/*.log && cat notes.txt"})
	want := []string{"src/tmp/*.log", "notes.txt"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFilesAffected_RejectsURLsHeadersAndFlags(t *testing.T) {
	got := filesAffected("Bash", map[string]any{
		"command": `curl -sS -H "Content-Type: application/json" https://example.com/api --data '{"a":1}'`,
	})
	if len(got) != 0 {
		t.Fatalf("expected no path-like tokens, got %v", got)
	}
}

func TestFilesAffected_RejectsDevAndBareWords(t *testing.T) {
	got := filesAffected("Bash", map[string]any{"command": "echo hello > /dev/null"})
	if len(got) != 0 {
		t.Fatalf("expected no path-like tokens, got %v", got)
	}
}

func TestFilesAffected_NonShellToolWithNoDirectFieldsIsEmpty(t *testing.T) {
	got := filesAffected("Read", map[string]any{"command": "ls -la"})
	if got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestFilesAffected_CapsAtTen(t *testing.T) {
	cmd := ""
	for i := 0; i < 15; i++ {
		cmd += "a/file" + string(rune('a'+i)) + ".txt "
	}
	got := filesAffected("Bash", map[string]any{"command": "touch " + cmd})
	if len(got) != maxFilesAffected {
		t.Fatalf("expected %d paths, got %d: %v", maxFilesAffected, len(got), got)
	}
}
