package main

import (
	"context"
	"fmt"
	"os"

	"github.com/basket/khoregos/internal/config"
	"github.com/basket/khoregos/internal/report"
	"github.com/basket/khoregos/internal/signing"
	"github.com/basket/khoregos/internal/state"
	"github.com/basket/khoregos/internal/store"
)

// runVerifyCommand implements spec §7's tamper-detection contract: a broken
// chain prints each broken sequence and exits non-zero, it never panics or
// silently truncates the report.
func runVerifyCommand(ctx context.Context, args []string) int {
	root, err := os.Getwd()
	if err != nil {
		return fatalStartup("E_GETWD", err)
	}
	stateDir := config.StateDir(root)

	sessionID := ""
	if len(args) > 0 {
		sessionID = args[0]
	}

	s := store.New(stateDir)
	if err := s.Connect(ctx); err != nil {
		return fatalStartup("E_STORE_OPEN", err)
	}
	defer s.Close()

	if sessionID == "" {
		session, found, err := state.New(s).GetLatestSession(ctx)
		if err != nil {
			return fatalStartup("E_SESSION_LOOKUP", err)
		}
		if !found {
			fmt.Fprintln(os.Stderr, "khoregos: no sessions recorded for this project")
			return 1
		}
		sessionID = session.ID
	}

	signingKey, found, err := signing.LoadKey(stateDir)
	if err != nil {
		return fatalStartup("E_SIGNING_KEY_LOAD", err)
	}
	if !found {
		fmt.Fprintln(os.Stderr, "khoregos: no signing key for this project; nothing to verify")
		return 1
	}

	result, err := report.VerifySession(ctx, s, signingKey, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "khoregos: %v\n", err)
		return 1
	}

	fmt.Printf("session %s: valid=%s checked=%d\n", sessionID, styleBool(fmt.Sprintf("%v", result.Valid), result.Valid), result.EventsChecked)
	for _, e := range result.Errors {
		fmt.Printf("  sequence=%d tag=%s\n", e.Sequence, e.Tag)
	}

	if !result.Valid {
		return 1
	}
	return 0
}
