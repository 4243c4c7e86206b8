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

func runReportCommand(ctx context.Context, args []string) int {
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

	signingKey, _, err := signing.LoadKey(stateDir)
	if err != nil {
		return fatalStartup("E_SIGNING_KEY_LOAD", err)
	}

	rep, err := report.Generate(ctx, s, signingKey, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "khoregos: %v\n", err)
		return 1
	}

	printReport(rep)
	return 0
}

func printReport(rep report.Report) {
	fmt.Printf("session:    %s\n", rep.Session.ID)
	fmt.Printf("objective:  %s\n", rep.Session.Objective)
	fmt.Printf("state:      %s\n", rep.Session.State)
	fmt.Printf("events:     %d\n", rep.EventCount)
	for severity, count := range rep.SeverityTally {
		fmt.Printf("  %-10s %d\n", styleSeverity(severity), count)
	}

	fmt.Printf("agents:     %d\n", len(rep.Agents))
	for _, a := range rep.Agents {
		fmt.Printf("  %-12s role=%-10s state=%-10s tool_calls=%d\n", a.Name, a.Role, a.State, a.ToolCallCount)
	}

	fmt.Printf("violations: %d\n", len(rep.Violations))
	for _, v := range rep.Violations {
		fmt.Printf("  %s %s type=%s action=%s\n", v.Timestamp.Format("2006-01-02T15:04:05Z07:00"), v.FilePath, v.ViolationType, v.EnforcementAction)
	}

	fmt.Printf("chain:      valid=%s checked=%d errors=%d\n", styleBool(fmt.Sprintf("%v", rep.ChainResult.Valid), rep.ChainResult.Valid), rep.ChainResult.EventsChecked, len(rep.ChainResult.Errors))
	for _, e := range rep.ChainResult.Errors {
		fmt.Printf("  sequence=%d tag=%s\n", e.Sequence, e.Tag)
	}
}
