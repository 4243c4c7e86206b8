package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/basket/khoregos/internal/audit"
	"github.com/basket/khoregos/internal/config"
	"github.com/basket/khoregos/internal/store"
)

func runPruneCommand(ctx context.Context, args []string) int {
	dryRun := false
	for _, a := range args {
		if a == "--dry-run" {
			dryRun = true
		}
	}

	root, err := os.Getwd()
	if err != nil {
		return fatalStartup("E_GETWD", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return fatalStartup("E_CONFIG_LOAD", err)
	}
	if cfg.RetentionDays <= 0 {
		fmt.Println("khoregos: retention_days is 0; nothing to prune")
		return 0
	}

	s := store.New(config.StateDir(root))
	if err := s.Connect(ctx); err != nil {
		return fatalStartup("E_STORE_OPEN", err)
	}
	defer s.Close()

	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.RetentionDays)
	result, err := audit.Prune(ctx, s, cutoff, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "khoregos: %v\n", err)
		return 1
	}

	verb := "pruned"
	if dryRun {
		verb = "would prune"
	}
	fmt.Printf("khoregos: %s %d events across %d sessions (cutoff %s)\n", verb, result.EventsDeleted, result.SessionsPruned, cutoff.Format("2006-01-02"))
	return 0
}
