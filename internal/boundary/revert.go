package boundary

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
)

// RevertFile restores absolutePath to its last committed contents under
// git, or deletes it if it was never tracked. It returns the content the
// file held before the revert (nil if the file did not exist), which
// callers surface to the operator as "what was reverted". Any failure in
// talking to git or the filesystem is swallowed: a failed strict-mode
// revert must not crash the hook pipeline, it just leaves the violation
// unresolved.
func RevertFile(ctx context.Context, absolutePath, projectRoot string) []byte {
	violating, _ := os.ReadFile(absolutePath)

	relative, err := filepath.Rel(projectRoot, absolutePath)
	if err != nil {
		return violating
	}
	relative = filepath.ToSlash(relative)

	if tracked(ctx, projectRoot, relative) {
		cmd := exec.CommandContext(ctx, "git", "checkout", "HEAD", "--", relative)
		cmd.Dir = projectRoot
		if err := cmd.Run(); err != nil {
			return violating
		}
		return violating
	}

	if err := os.Remove(absolutePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return violating
	}
	return violating
}

// tracked reports whether git considers relative (relative to
// projectRoot) part of HEAD's tree.
func tracked(ctx context.Context, projectRoot, relative string) bool {
	cmd := exec.CommandContext(ctx, "git", "show", "HEAD:"+relative)
	cmd.Dir = projectRoot
	return cmd.Run() == nil
}
