package main

import (
	"context"
	"fmt"
	"os"

	"github.com/basket/khoregos/internal/config"
	"github.com/basket/khoregos/internal/state"
	"github.com/basket/khoregos/internal/store"
)

func runStatusCommand(ctx context.Context, args []string) int {
	root, err := os.Getwd()
	if err != nil {
		return fatalStartup("E_GETWD", err)
	}

	stateDir := config.StateDir(root)
	daemon := state.NewDaemonState(stateDir)
	if !daemon.IsRunning() {
		fmt.Println("khoregos: no active session for this project")
		return 0
	}

	fields := daemon.Read()
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
		fmt.Printf("khoregos: daemon state points at unknown session %s\n", fields.SessionID)
		return 1
	}

	fmt.Printf("session:    %s\n", session.ID)
	fmt.Printf("state:      %s\n", session.State)
	fmt.Printf("objective:  %s\n", session.Objective)
	fmt.Printf("started_at: %s\n", session.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
	if session.GitBranch != nil {
		fmt.Printf("git_branch: %s\n", *session.GitBranch)
	}
	if session.GitSHA != nil {
		fmt.Printf("git_sha:    %s\n", *session.GitSHA)
	}
	fmt.Printf("git_dirty:  %v\n", session.GitDirty)
	return 0
}
