package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrAlreadyRunning is returned by Create when the state file already
// exists: at most one session with state in {created, active} may exist
// per project at any wall-clock moment (spec §3), enforced here rather
// than by a database constraint.
var ErrAlreadyRunning = errors.New("state: a session is already running for this project")

const daemonStateFileName = "daemon.state"

// DaemonState marks whether a governance session is live for a project.
// Liveness is the presence of the state file, not a tracked PID: the CLI's
// start command is fire-and-forget, so there is no long-running process to
// poll.
type DaemonState struct {
	khoregosDir string
}

// NewDaemonState returns a DaemonState rooted at khoregosDir (a project's
// .khoregos directory).
func NewDaemonState(khoregosDir string) DaemonState {
	return DaemonState{khoregosDir: khoregosDir}
}

func (d DaemonState) path() string {
	return filepath.Join(d.khoregosDir, daemonStateFileName)
}

// IsRunning reports whether the state file exists.
func (d DaemonState) IsRunning() bool {
	_, err := os.Stat(d.path())
	return err == nil
}

// Fields is the persisted shape of the state file.
type Fields struct {
	SessionID string `json:"session_id"`
}

// Write persists fields, marking the session active. Unlike Create, it
// overwrites an existing state file; callers that must not clobber a
// live session should use Create instead.
func (d DaemonState) Write(fields Fields) error {
	if err := os.MkdirAll(d.khoregosDir, 0o700); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(d.path(), encoded, 0o600); err != nil {
		return err
	}
	return os.Chmod(d.path(), 0o600)
}

// Create atomically writes fields to the state file, refusing with
// ErrAlreadyRunning if the file already exists. This is the operation the
// lifecycle start command uses: it must never silently clobber a live
// session's state.
func (d DaemonState) Create(fields Fields) error {
	if err := os.MkdirAll(d.khoregosDir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	encoded, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return err
	}
	file, err := os.OpenFile(d.path(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return ErrAlreadyRunning
		}
		return fmt.Errorf("create daemon state file: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(encoded); err != nil {
		return fmt.Errorf("write daemon state file: %w", err)
	}
	return nil
}

// Read returns the persisted fields, or a zero value if the state file is
// absent, unreadable, or malformed.
func (d DaemonState) Read() Fields {
	data, err := os.ReadFile(d.path())
	if err != nil {
		return Fields{}
	}
	var fields Fields
	if err := json.Unmarshal(data, &fields); err != nil {
		return Fields{}
	}
	return fields
}

// Remove deletes the state file, marking the session inactive.
func (d DaemonState) Remove() error {
	err := os.Remove(d.path())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
