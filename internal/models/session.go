package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// SessionState is the closed set of Session lifecycle states.
type SessionState string

const (
	SessionCreated   SessionState = "created"
	SessionActive    SessionState = "active"
	SessionPaused    SessionState = "paused"
	SessionCompleted SessionState = "completed"
	SessionFailed    SessionState = "failed"
)

// Terminal reports whether the state ends a session's lifecycle. ended_at
// is set iff the session is in a terminal state.
func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// SessionColumns is the ordered column list used both for generic store
// CRUD and for building SELECT statements consumed by ScanRow.
var SessionColumns = []string{
	"id", "objective", "state", "started_at", "ended_at", "parent_session_id",
	"config_snapshot", "context_summary", "metadata", "operator", "hostname",
	"k6s_version", "agent_runtime_version", "git_branch", "git_sha", "git_dirty",
	"trace_id",
}

// Session is one governed agent-team run. At most one Session with state in
// {created, active} may exist per project at any wall-clock moment; that
// invariant is enforced by the lifecycle state file, not by this type.
type Session struct {
	ID                  string
	Objective           string
	State               SessionState
	StartedAt           time.Time
	EndedAt             *time.Time
	ParentSessionID     *string
	ConfigSnapshot      json.RawMessage
	ContextSummary      *string
	Metadata            map[string]any
	Operator            *string
	Hostname            *string
	K6sVersion          *string
	AgentRuntimeVersion *string
	GitBranch           *string
	GitSHA              *string
	GitDirty            bool
	TraceID             *string
}

// ToRow serializes the session for the generic store's Insert/Update calls.
// JSON-valued columns are pre-marshaled since the store performs no
// per-column encoding of its own.
func (s Session) ToRow() (map[string]any, error) {
	metadata, err := marshalOrNil(s.Metadata)
	if err != nil {
		return nil, err
	}
	row := map[string]any{
		"id":                    s.ID,
		"objective":             s.Objective,
		"state":                 string(s.State),
		"started_at":            s.StartedAt.UTC().Format(TimeLayout),
		"ended_at":              formatTimePtr(s.EndedAt),
		"parent_session_id":     s.ParentSessionID,
		"config_snapshot":       rawOrNil(s.ConfigSnapshot),
		"context_summary":       s.ContextSummary,
		"metadata":              metadata,
		"operator":              s.Operator,
		"hostname":              s.Hostname,
		"k6s_version":           s.K6sVersion,
		"agent_runtime_version": s.AgentRuntimeVersion,
		"git_branch":            s.GitBranch,
		"git_sha":               s.GitSHA,
		"git_dirty":             s.GitDirty,
		"trace_id":              s.TraceID,
	}
	return row, nil
}

// ScanRow reads one row produced by a `SELECT <SessionColumns> FROM
// sessions` query, in that column order.
func (s *Session) ScanRow(rows *sql.Rows) error {
	var (
		state, startedAt                                         string
		gitDirty                                                  any
		endedAt, parentID, configSnapshot, contextSummary        sql.NullString
		metadata, operator, hostname, k6sVersion, runtimeVersion sql.NullString
		gitBranch, gitSHA, traceID                                sql.NullString
	)
	if err := rows.Scan(
		&s.ID, &s.Objective, &state, &startedAt, &endedAt, &parentID,
		&configSnapshot, &contextSummary, &metadata, &operator, &hostname,
		&k6sVersion, &runtimeVersion, &gitBranch, &gitSHA, &gitDirty, &traceID,
	); err != nil {
		return err
	}
	s.State = SessionState(state)
	t, err := parseTimeAny(startedAt)
	if err != nil {
		return err
	}
	s.StartedAt = t
	s.EndedAt = nullStringToTimePtr(endedAt)
	s.ParentSessionID = nullStringPtr(parentID)
	if configSnapshot.Valid {
		s.ConfigSnapshot = json.RawMessage(configSnapshot.String)
	}
	s.ContextSummary = nullStringPtr(contextSummary)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &s.Metadata); err != nil {
			return err
		}
	}
	s.Operator = nullStringPtr(operator)
	s.Hostname = nullStringPtr(hostname)
	s.K6sVersion = nullStringPtr(k6sVersion)
	s.AgentRuntimeVersion = nullStringPtr(runtimeVersion)
	s.GitBranch = nullStringPtr(gitBranch)
	s.GitSHA = nullStringPtr(gitSHA)
	s.GitDirty = truthy(gitDirty)
	s.TraceID = nullStringPtr(traceID)
	return nil
}

// IsOpen reports whether the session occupies the project's single
// created-or-active slot.
func (s Session) IsOpen() bool {
	return s.State == SessionCreated || s.State == SessionActive
}
