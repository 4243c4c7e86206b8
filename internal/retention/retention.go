// Package retention runs the project's configured audit-log retention
// policy on a cron schedule, cascade-pruning terminal sessions and their
// events once they age past the configured window.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/khoregos/internal/audit"
	"github.com/basket/khoregos/internal/store"
)

// DefaultSchedule prunes once a day at 03:00, off the hours when hook
// invocations are most likely to be contending for the database.
const DefaultSchedule = "0 3 * * *"

// cronParser parses standard 5-field cron expressions (minute, hour, dom,
// month, dow), the same dialect the teacher's task scheduler used.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the retention scheduler. Khoregos has
// no other user-facing schedule concept, so this is the sole consumer of
// robfig/cron/v3 in this module.
type Config struct {
	Store         *store.Store
	Logger        *slog.Logger
	RetentionDays int    // 0 disables pruning entirely
	Schedule      string // cron expression; defaults to DefaultSchedule
}

// Scheduler runs audit.Prune against the configured retention window on
// the configured cron schedule. It is a lifecycle-process concern only:
// hook subprocesses are far too short-lived to own a background
// goroutine.
type Scheduler struct {
	store         *store.Store
	logger        *slog.Logger
	retentionDays int
	schedule      cronlib.Schedule
	scheduleExpr  string
	now           func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the given config. An invalid
// cron expression falls back to DefaultSchedule, logging the parse error
// rather than failing lifecycle startup over a malformed retention
// schedule.
func NewScheduler(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	expr := cfg.Schedule
	if expr == "" {
		expr = DefaultSchedule
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		logger.Warn("retention: invalid schedule, using default", "schedule", expr, "error", err)
		expr = DefaultSchedule
		schedule, _ = cronParser.Parse(expr)
	}
	return &Scheduler{
		store:         cfg.Store,
		logger:        logger,
		retentionDays: cfg.RetentionDays,
		schedule:      schedule,
		scheduleExpr:  expr,
		now:           time.Now,
	}
}

// Start begins the scheduler loop in a background goroutine. It is a
// no-op if retention is disabled (RetentionDays <= 0).
func (s *Scheduler) Start(ctx context.Context) {
	if s.retentionDays <= 0 {
		s.logger.Info("retention: disabled, scheduler not started")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("retention: scheduler started", "schedule", s.scheduleExpr, "retention_days", s.retentionDays)
}

// Stop cancels the scheduler loop and waits for it to exit. Safe to call
// even if Start never ran.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info("retention: scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		next := s.schedule.Next(s.now())
		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays)
	result, err := audit.Prune(ctx, s.store, cutoff, false)
	if err != nil {
		s.logger.Error("retention: prune failed", "error", err)
		return
	}
	if result.EventsDeleted > 0 || result.SessionsPruned > 0 {
		s.logger.Info("retention: pruned",
			"events_deleted", result.EventsDeleted,
			"sessions_pruned", result.SessionsPruned,
			"cutoff", cutoff,
		)
	}
}

// NextRun reports when the scheduler will next fire, for status reporting.
func (s *Scheduler) NextRun() (time.Time, error) {
	if s.schedule == nil {
		return time.Time{}, fmt.Errorf("retention: no schedule configured")
	}
	return s.schedule.Next(s.now()), nil
}
