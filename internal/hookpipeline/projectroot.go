package hookpipeline

import (
	"os"
	"path/filepath"

	"github.com/basket/khoregos/internal/state"
)

// ResolveProjectRoot looks for a running governance session reachable from
// cwd: cwd itself, then each ancestor up to the filesystem root, then
// cwd's immediate child directories. Hook subprocesses are launched from
// wherever the calling tool happens to have its working directory, which
// is not always the project root a session was started from (monorepo
// subpackages, or a session started one level up).
func ResolveProjectRoot(cwd string) (string, bool) {
	if candidate, ok := runningAt(cwd); ok {
		return candidate, true
	}

	dir := cwd
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
		if candidate, ok := runningAt(dir); ok {
			return candidate, true
		}
	}

	entries, err := os.ReadDir(cwd)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		child := filepath.Join(cwd, entry.Name())
		if candidate, ok := runningAt(child); ok {
			return candidate, true
		}
	}
	return "", false
}

func runningAt(dir string) (string, bool) {
	if state.NewDaemonState(filepath.Join(dir, ".khoregos")).IsRunning() {
		return dir, true
	}
	return "", false
}
