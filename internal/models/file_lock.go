package models

import (
	"database/sql"
	"time"
)

// FileLockColumns is the ordered column list for CRUD and SELECT.
var FileLockColumns = []string{"path", "session_id", "agent_id", "acquired_at", "expires_at"}

// FileLock is an at-most-one-live-holder advisory lock keyed by project-
// relative path. A lock is live iff ExpiresAt is nil or in the future.
type FileLock struct {
	Path       string
	SessionID  string
	AgentID    string
	AcquiredAt time.Time
	ExpiresAt  *time.Time
}

// Expired reports whether the lock has lapsed as of now.
func (l FileLock) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

func (l FileLock) ToRow() map[string]any {
	return map[string]any{
		"path":        l.Path,
		"session_id":  l.SessionID,
		"agent_id":    l.AgentID,
		"acquired_at": l.AcquiredAt.UTC().Format(TimeLayout),
		"expires_at":  formatTimePtr(l.ExpiresAt),
	}
}

// ScanRow reads one row produced by `SELECT <FileLockColumns> FROM
// file_locks`.
func (l *FileLock) ScanRow(rows *sql.Rows) error {
	var (
		acquiredAt string
		expiresAt  sql.NullString
	)
	if err := rows.Scan(&l.Path, &l.SessionID, &l.AgentID, &acquiredAt, &expiresAt); err != nil {
		return err
	}
	t, err := parseTimeAny(acquiredAt)
	if err != nil {
		return err
	}
	l.AcquiredAt = t
	l.ExpiresAt = nullStringToTimePtr(expiresAt)
	return nil
}
