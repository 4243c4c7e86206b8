// Package lock coordinates exclusive, TTL-bounded per-path file ownership
// between agents sharing a session.
package lock

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/basket/khoregos/internal/models"
	"github.com/basket/khoregos/internal/store"
)

// DefaultDuration is the lock lifetime applied when a caller does not name
// one explicitly.
const DefaultDuration = 300 * time.Second

// Manager is bound to one session's file_locks rows.
type Manager struct {
	store     *store.Store
	sessionID string
}

// New returns a Manager for sessionID.
func New(s *store.Store, sessionID string) *Manager {
	return &Manager{store: s, sessionID: sessionID}
}

// Result reports the outcome of a lock acquisition or release attempt.
type Result struct {
	Success bool
	Lock    *models.FileLock
	Reason  string
}

// Acquire attempts to take an exclusive lock on path for agentID. An
// expired lock is reaped and treated as absent; a lock already held by
// agentID is extended in place; a lock held by another agent is denied.
// The whole check-then-write runs inside one transaction so the backing
// single-writer database gives it compare-and-swap semantics without any
// additional in-process locking.
func (m *Manager) Acquire(ctx context.Context, path, agentID string, duration time.Duration) (Result, error) {
	if duration <= 0 {
		duration = DefaultDuration
	}
	now := time.Now().UTC()
	expiresAt := now.Add(duration)

	var result Result
	err := m.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		existing, found, err := fetchLock(ctx, tx, m.sessionID, path)
		if err != nil {
			return err
		}

		if found && !existing.Expired(now) {
			if existing.AgentID != agentID {
				result = Result{Success: false, Reason: fmt.Sprintf("locked by agent %s", existing.AgentID)}
				return nil
			}
			if _, err := tx.Update(ctx, "file_locks",
				map[string]any{"expires_at": expiresAt.Format(models.TimeLayout)},
				"path = ? AND session_id = ?", path, m.sessionID,
			); err != nil {
				return fmt.Errorf("extend lock: %w", err)
			}
			existing.ExpiresAt = &expiresAt
			result = Result{Success: true, Lock: &existing}
			return nil
		}

		newLock := models.FileLock{
			Path:       path,
			SessionID:  m.sessionID,
			AgentID:    agentID,
			AcquiredAt: now,
			ExpiresAt:  &expiresAt,
		}
		if _, err := tx.InsertOrReplace(ctx, "file_locks", newLock.ToRow()); err != nil {
			return fmt.Errorf("insert lock: %w", err)
		}
		result = Result{Success: true, Lock: &newLock}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("acquire lock on %s: %w", path, err)
	}
	return result, nil
}

// Release drops the lock on path if held by agentID. Releasing an absent
// lock succeeds (idempotent); releasing a lock held by another agent
// fails.
func (m *Manager) Release(ctx context.Context, path, agentID string) (Result, error) {
	var result Result
	err := m.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		existing, found, err := fetchLock(ctx, tx, m.sessionID, path)
		if err != nil {
			return err
		}
		if !found {
			result = Result{Success: true, Reason: "lock not found (already released)"}
			return nil
		}
		if existing.AgentID != agentID {
			result = Result{Success: false, Reason: fmt.Sprintf("lock held by different agent: %s", existing.AgentID)}
			return nil
		}
		if _, err := tx.Delete(ctx, "file_locks", "path = ? AND session_id = ?", path, m.sessionID); err != nil {
			return fmt.Errorf("delete lock: %w", err)
		}
		result = Result{Success: true}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("release lock on %s: %w", path, err)
	}
	return result, nil
}

// Check returns the live lock on path, reaping it first if it has expired.
func (m *Manager) Check(ctx context.Context, path string) (*models.FileLock, error) {
	lock, found, err := m.fetchAndReap(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("check lock on %s: %w", path, err)
	}
	if !found {
		return nil, nil
	}
	return &lock, nil
}

// ListLocks returns this session's live locks, reaping any expired ones
// encountered along the way, optionally narrowed to one agent.
func (m *Manager) ListLocks(ctx context.Context, agentID string) ([]models.FileLock, error) {
	query := fmt.Sprintf("SELECT %s FROM file_locks WHERE session_id = ?", strings.Join(models.FileLockColumns, ", "))
	params := []any{m.sessionID}
	if agentID != "" {
		query += " AND agent_id = ?"
		params = append(params, agentID)
	}

	var all []models.FileLock
	err := m.store.FetchAll(ctx, query, params, func(rows *sql.Rows) error {
		var l models.FileLock
		if err := l.ScanRow(rows); err != nil {
			return err
		}
		all = append(all, l)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}

	now := time.Now().UTC()
	live := make([]models.FileLock, 0, len(all))
	for _, l := range all {
		if l.Expired(now) {
			if _, err := m.store.Delete(ctx, "file_locks", "path = ? AND session_id = ?", l.Path, m.sessionID); err != nil {
				return nil, fmt.Errorf("reap expired lock on %s: %w", l.Path, err)
			}
			continue
		}
		live = append(live, l)
	}
	return live, nil
}

// ReleaseAllForAgent drops every lock held by agentID in this session,
// returning the number released.
func (m *Manager) ReleaseAllForAgent(ctx context.Context, agentID string) (int, error) {
	n, err := m.store.Delete(ctx, "file_locks", "session_id = ? AND agent_id = ?", m.sessionID, agentID)
	if err != nil {
		return 0, fmt.Errorf("release all locks for agent %s: %w", agentID, err)
	}
	return int(n), nil
}

// ReleaseAll drops every lock in this session, returning the number
// released.
func (m *Manager) ReleaseAll(ctx context.Context) (int, error) {
	n, err := m.store.Delete(ctx, "file_locks", "session_id = ?", m.sessionID)
	if err != nil {
		return 0, fmt.Errorf("release all locks: %w", err)
	}
	return int(n), nil
}

func (m *Manager) fetchAndReap(ctx context.Context, path string) (models.FileLock, bool, error) {
	var lock models.FileLock
	found := false
	query := fmt.Sprintf("SELECT %s FROM file_locks WHERE path = ? AND session_id = ?", strings.Join(models.FileLockColumns, ", "))
	err := m.store.FetchAll(ctx, query, []any{path, m.sessionID}, func(rows *sql.Rows) error {
		found = true
		return lock.ScanRow(rows)
	})
	if err != nil {
		return models.FileLock{}, false, fmt.Errorf("fetch lock: %w", err)
	}
	if !found {
		return models.FileLock{}, false, nil
	}
	if lock.Expired(time.Now().UTC()) {
		if _, err := m.store.Delete(ctx, "file_locks", "path = ? AND session_id = ?", path, m.sessionID); err != nil {
			return models.FileLock{}, false, fmt.Errorf("reap expired lock: %w", err)
		}
		return models.FileLock{}, false, nil
	}
	return lock, true, nil
}

func fetchLock(ctx context.Context, tx *store.Tx, sessionID, path string) (models.FileLock, bool, error) {
	var lock models.FileLock
	found := false
	query := fmt.Sprintf("SELECT %s FROM file_locks WHERE path = ? AND session_id = ?", strings.Join(models.FileLockColumns, ", "))
	err := tx.FetchAll(ctx, query, []any{path, sessionID}, func(rows *sql.Rows) error {
		found = true
		return lock.ScanRow(rows)
	})
	if err != nil {
		return models.FileLock{}, false, fmt.Errorf("fetch lock in tx: %w", err)
	}
	return lock, found, nil
}
