package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/basket/khoregos/internal/config"
	"github.com/basket/khoregos/internal/retention"
	"github.com/basket/khoregos/internal/store"
)

// runDaemonCommand runs the retention scheduler in the foreground until
// interrupted. This is the "long-lived lifecycle daemon" robfig/cron/v3
// requires (SPEC_FULL.md §11): every other lifecycle command is a one-shot
// invocation, too short-lived to host a cron loop.
func runDaemonCommand(ctx context.Context, args []string) int {
	root, err := os.Getwd()
	if err != nil {
		return fatalStartup("E_GETWD", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return fatalStartup("E_CONFIG_LOAD", err)
	}
	if cfg.RetentionDays <= 0 {
		fmt.Println("khoregos: retention_days is 0; daemon has nothing to schedule")
		return 0
	}

	s := store.New(config.StateDir(root))
	if err := s.Connect(ctx); err != nil {
		return fatalStartup("E_STORE_OPEN", err)
	}
	defer s.Close()

	runCtx, svc, err := startLifecycleServices(ctx, cfg)
	if err != nil {
		return fatalStartup("E_TELEMETRY_INIT", err)
	}
	defer svc.stop(context.Background())

	scheduler := retention.NewScheduler(retention.Config{
		Store:         s,
		Logger:        svc.logger,
		RetentionDays: cfg.RetentionDays,
		Schedule:      cfg.RetentionSchedule,
	})
	scheduler.Start(runCtx)
	defer func() { scheduler.Stop() }()

	if next, err := scheduler.NextRun(); err == nil {
		fmt.Printf("khoregos: retention daemon running (next prune at %s)\n", next.Format("2006-01-02T15:04:05Z07:00"))
	}

	watcher := config.NewWatcher(root, svc.logger)
	if err := watcher.Start(runCtx); err != nil {
		fmt.Fprintf(os.Stderr, "khoregos: warning: config watcher disabled: %v\n", err)
	} else {
		go watchConfigReload(runCtx, root, s, svc.logger, watcher, &scheduler)
	}

	sigCtx, stop := signal.NotifyContext(runCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	fmt.Println("khoregos: retention daemon shutting down")
	return 0
}

// watchConfigReload restarts the retention scheduler with the freshly loaded
// retention_days/retention_schedule whenever k6s.yaml changes, so an operator
// tightening the retention window does not need to restart the daemon.
func watchConfigReload(ctx context.Context, root string, s *store.Store, logger *slog.Logger, watcher *config.Watcher, scheduler **retention.Scheduler) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-watcher.Events():
			if !ok {
				return
			}
			cfg, err := config.Load(root)
			if err != nil {
				logger.Warn("config reload failed, keeping previous retention schedule", "error", err)
				continue
			}
			(*scheduler).Stop()
			next := retention.NewScheduler(retention.Config{
				Store:         s,
				Logger:        logger,
				RetentionDays: cfg.RetentionDays,
				Schedule:      cfg.RetentionSchedule,
			})
			next.Start(ctx)
			*scheduler = next
			logger.Info("retention schedule reloaded", "retention_days", cfg.RetentionDays, "schedule", cfg.RetentionSchedule)
		}
	}
}
