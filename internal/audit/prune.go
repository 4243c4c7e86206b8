package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/basket/khoregos/internal/models"
	"github.com/basket/khoregos/internal/store"
)

// PruneResult reports what Prune deleted (or, for a dry run, would delete).
type PruneResult struct {
	EventsDeleted  int
	SessionsPruned int
}

// Prune deletes audit events older than beforeDate, then cascade-deletes
// any terminal session that ended before beforeDate and has no events left.
// A dry run computes the same counts without mutating the store.
func Prune(ctx context.Context, s *store.Store, beforeDate time.Time, dryRun bool) (PruneResult, error) {
	cutoff := beforeDate.UTC().Format(models.TimeLayout)

	if dryRun {
		return dryRunCounts(ctx, s, cutoff)
	}

	var result PruneResult
	err := s.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		sessionIDs, err := prunableSessionIDs(ctx, tx, cutoff)
		if err != nil {
			return err
		}

		deleted, err := tx.Delete(ctx, "audit_events", "timestamp < ?", cutoff)
		if err != nil {
			return fmt.Errorf("delete audit events: %w", err)
		}
		result.EventsDeleted = int(deleted)

		for _, id := range sessionIDs {
			if err := cascadeDeleteSession(ctx, tx, id); err != nil {
				return err
			}
		}
		result.SessionsPruned = len(sessionIDs)
		return nil
	})
	if err != nil {
		return PruneResult{}, fmt.Errorf("prune: %w", err)
	}
	return result, nil
}

func dryRunCounts(ctx context.Context, s *store.Store, cutoff string) (PruneResult, error) {
	var eventsDeleted int
	if err := s.FetchOne(ctx, `SELECT COUNT(1) FROM audit_events WHERE timestamp < ?`, []any{cutoff}, &eventsDeleted); err != nil {
		return PruneResult{}, fmt.Errorf("count prunable events: %w", err)
	}

	var sessionsPruned int
	if err := s.FetchOne(ctx, prunableSessionsCountQuery, []any{cutoff, cutoff}, &sessionsPruned); err != nil {
		return PruneResult{}, fmt.Errorf("count prunable sessions: %w", err)
	}

	return PruneResult{EventsDeleted: eventsDeleted, SessionsPruned: sessionsPruned}, nil
}

// prunableSessionsCountQuery and prunableSessionIDsQuery share the same
// predicate: a terminal session that ended before the cutoff and would
// have zero remaining events once everything before the cutoff is deleted
// (i.e. it has no events at or after the cutoff).
const prunableSessionsPredicate = `
	state IN ('completed', 'failed')
	AND ended_at IS NOT NULL AND ended_at < ?
	AND NOT EXISTS (
		SELECT 1 FROM audit_events ae WHERE ae.session_id = sessions.id AND ae.timestamp >= ?
	)
`

const prunableSessionsCountQuery = `SELECT COUNT(1) FROM sessions WHERE` + prunableSessionsPredicate
const prunableSessionsIDQuery = `SELECT id FROM sessions WHERE` + prunableSessionsPredicate

func prunableSessionIDs(ctx context.Context, tx *store.Tx, cutoff string) ([]string, error) {
	var ids []string
	err := tx.FetchAll(ctx, prunableSessionsIDQuery, []any{cutoff, cutoff}, func(rows *sql.Rows) error {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	return ids, err
}

func cascadeDeleteSession(ctx context.Context, tx *store.Tx, sessionID string) error {
	for _, table := range []string{"boundary_violations", "file_locks", "context_store", "agents"} {
		if _, err := tx.Delete(ctx, table, "session_id = ?", sessionID); err != nil {
			return fmt.Errorf("cascade delete %s for session %s: %w", table, sessionID, err)
		}
	}
	if _, err := tx.Delete(ctx, "sessions", "id = ?", sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}
