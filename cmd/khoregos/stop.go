package main

import (
	"context"
	"fmt"
	"os"

	"github.com/basket/khoregos/internal/audit"
	"github.com/basket/khoregos/internal/config"
	"github.com/basket/khoregos/internal/models"
	"github.com/basket/khoregos/internal/plugin"
	"github.com/basket/khoregos/internal/signing"
	"github.com/basket/khoregos/internal/state"
	"github.com/basket/khoregos/internal/store"
)

func runStopCommand(ctx context.Context, args []string) int {
	root, err := os.Getwd()
	if err != nil {
		return fatalStartup("E_GETWD", err)
	}

	stateDir := config.StateDir(root)
	daemon := state.NewDaemonState(stateDir)
	fields := daemon.Read()
	if fields.SessionID == "" {
		fmt.Fprintln(os.Stderr, "khoregos: no active session for this project")
		return 1
	}

	s := store.New(stateDir)
	if err := s.Connect(ctx); err != nil {
		return fatalStartup("E_STORE_OPEN", err)
	}
	defer s.Close()

	stateMgr := state.New(s)
	session, found, err := stateMgr.GetSession(ctx, fields.SessionID)
	if err != nil {
		return fatalStartup("E_SESSION_LOOKUP", err)
	}
	if !found {
		fmt.Fprintf(os.Stderr, "khoregos: session %s not found; clearing stale daemon state\n", fields.SessionID)
		_ = daemon.Remove()
		return 1
	}

	cfg, err := config.Load(root)
	if err != nil {
		return fatalStartup("E_CONFIG_LOAD", err)
	}
	ctx, svc, err := startLifecycleServices(ctx, cfg)
	if err != nil {
		return fatalStartup("E_TELEMETRY_INIT", err)
	}
	defer svc.stop(context.Background())

	signingKey, _, err := signing.LoadKey(stateDir)
	if err != nil {
		return fatalStartup("E_SIGNING_KEY_LOAD", err)
	}

	traceID := ""
	if session.TraceID != nil {
		traceID = *session.TraceID
	}
	logger, err := audit.NewAuditLogger(ctx, s, session.ID, traceID, signingKey, svc.bus, svc.metrics)
	if err != nil {
		return fatalStartup("E_AUDIT_INIT", err)
	}

	var summary *string
	if len(args) > 0 {
		joined := args[0]
		for _, a := range args[1:] {
			joined += " " + a
		}
		summary = &joined
	}

	if _, err := logger.Log(ctx, audit.LogInput{
		EventType: models.EventSessionComplete,
		Action:    "session ended via khoregos stop",
	}); err != nil {
		fmt.Fprintf(os.Stderr, "khoregos: warning: failed to log session_complete: %v\n", err)
	}
	svc.plugins.OnSessionStop(ctx, plugin.SessionEvent{SessionID: session.ID, Objective: session.Objective})

	if err := stateMgr.MarkSessionCompleted(ctx, session.ID, summary); err != nil {
		return fatalStartup("E_SESSION_COMPLETE", err)
	}

	if err := daemon.Remove(); err != nil {
		return fatalStartup("E_DAEMON_STATE_REMOVE", err)
	}

	fmt.Printf("khoregos: session %s stopped\n", session.ID)
	return 0
}
