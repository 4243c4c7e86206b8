package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strings"

	"github.com/basket/khoregos/internal/audit"
	"github.com/basket/khoregos/internal/config"
	"github.com/basket/khoregos/internal/models"
	"github.com/basket/khoregos/internal/plugin"
	"github.com/basket/khoregos/internal/signing"
	"github.com/basket/khoregos/internal/state"
	"github.com/basket/khoregos/internal/store"
)

func runStartCommand(ctx context.Context, args []string) int {
	objective := strings.Join(args, " ")

	root, err := os.Getwd()
	if err != nil {
		return fatalStartup("E_GETWD", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return fatalStartup("E_CONFIG_LOAD", err)
	}

	stateDir := config.StateDir(root)
	daemon := state.NewDaemonState(stateDir)
	if daemon.IsRunning() {
		fmt.Fprintln(os.Stderr, "khoregos: a session is already active for this project")
		return 1
	}

	if _, err := signing.GenerateKey(stateDir); err != nil {
		return fatalStartup("E_GENESIS_WRITE", err)
	}

	s := store.New(stateDir)
	if err := s.Connect(ctx); err != nil {
		return fatalStartup("E_STORE_OPEN", err)
	}
	defer s.Close()

	ctx, svc, err := startLifecycleServices(ctx, cfg)
	if err != nil {
		return fatalStartup("E_TELEMETRY_INIT", err)
	}
	defer svc.stop(context.Background())

	stateMgr := state.New(s)
	session, err := stateMgr.CreateSession(ctx, state.CreateSessionInput{
		Objective: objective,
	})
	if err != nil {
		return fatalStartup("E_SESSION_CREATE", err)
	}

	snapshot, err := cfg.ConfigSnapshot()
	if err != nil {
		return fatalStartup("E_CONFIG_SNAPSHOT", err)
	}
	session.ConfigSnapshot = snapshot
	if hostname, err := os.Hostname(); err == nil {
		session.Hostname = &hostname
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		operator := u.Username
		session.Operator = &operator
	}
	applyGitContext(ctx, root, &session)
	if err := stateMgr.UpdateSession(ctx, session); err != nil {
		return fatalStartup("E_SESSION_UPDATE", err)
	}

	if err := stateMgr.MarkSessionActive(ctx, session.ID); err != nil {
		return fatalStartup("E_SESSION_ACTIVATE", err)
	}
	session.State = models.SessionActive

	if err := daemon.Create(state.Fields{SessionID: session.ID}); err != nil {
		if err == state.ErrAlreadyRunning {
			fmt.Fprintln(os.Stderr, "khoregos: a session is already active for this project")
			return 1
		}
		return fatalStartup("E_DAEMON_STATE_CREATE", err)
	}

	signingKey, found, err := signing.LoadKey(stateDir)
	if err != nil {
		return fatalStartup("E_SIGNING_KEY_LOAD", err)
	}
	var key []byte
	if found {
		key = signingKey
	}

	traceID := ""
	if session.TraceID != nil {
		traceID = *session.TraceID
	}
	logger, err := audit.NewAuditLogger(ctx, s, session.ID, traceID, key, svc.bus, svc.metrics)
	if err != nil {
		return fatalStartup("E_AUDIT_INIT", err)
	}
	if _, err := logger.Log(ctx, audit.LogInput{
		EventType: models.EventSessionStart,
		Action:    "session started: " + objective,
	}); err != nil {
		return fatalStartup("E_AUDIT_LOG", err)
	}
	svc.plugins.OnSessionStart(ctx, plugin.SessionEvent{SessionID: session.ID, Objective: objective})

	fmt.Printf("khoregos: session %s started (objective: %q)\n", session.ID, objective)
	return 0
}

// applyGitContext best-effort fills git_branch/git_sha/git_dirty by
// shelling out to git, following the same os/exec idiom
// internal/boundary/revert.go uses for VCS interaction. A project with no
// git repository (or no git binary) simply leaves these fields unset.
func applyGitContext(ctx context.Context, root string, session *models.Session) {
	branch, err := gitOutput(ctx, root, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return
	}
	session.GitBranch = &branch

	sha, err := gitOutput(ctx, root, "rev-parse", "HEAD")
	if err == nil {
		session.GitSHA = &sha
	}

	status, err := gitOutput(ctx, root, "status", "--porcelain")
	if err == nil {
		session.GitDirty = status != ""
	}
}

func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
