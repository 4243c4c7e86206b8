package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// AgentRole is the closed set of roles an Agent can hold within a session.
type AgentRole string

const (
	AgentRoleLead     AgentRole = "lead"
	AgentRoleTeammate AgentRole = "teammate"
)

// AgentState is the closed set of Agent lifecycle states.
type AgentState string

const (
	AgentActive    AgentState = "active"
	AgentIdle      AgentState = "idle"
	AgentCompleted AgentState = "completed"
	AgentFailed    AgentState = "failed"
)

// AgentColumns is the ordered column list for CRUD and SELECT.
var AgentColumns = []string{
	"id", "session_id", "name", "role", "specialization", "state", "spawned_at",
	"boundary_config", "metadata", "external_session_id", "tool_call_count",
}

// Agent is one governed actor within a Session. (session_id, name) is not
// unique; lookup-by-name returns the first match.
type Agent struct {
	ID                string
	SessionID         string
	Name              string
	Role              AgentRole
	Specialization    *string
	State             AgentState
	SpawnedAt         time.Time
	BoundaryConfig    json.RawMessage
	Metadata          map[string]any
	ExternalSessionID *string
	ToolCallCount     int
}

// IsActive reports whether the agent is still counted toward the session's
// live-agent set.
func (a Agent) IsActive() bool {
	return a.State == AgentActive || a.State == AgentIdle
}

func (a Agent) ToRow() (map[string]any, error) {
	metadata, err := marshalOrNil(a.Metadata)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":                   a.ID,
		"session_id":           a.SessionID,
		"name":                 a.Name,
		"role":                 string(a.Role),
		"specialization":       a.Specialization,
		"state":                string(a.State),
		"spawned_at":           a.SpawnedAt.UTC().Format(TimeLayout),
		"boundary_config":      rawOrNil(a.BoundaryConfig),
		"metadata":             metadata,
		"external_session_id":  a.ExternalSessionID,
		"tool_call_count":      a.ToolCallCount,
	}, nil
}

// ScanRow reads one row produced by `SELECT <AgentColumns> FROM agents`.
func (a *Agent) ScanRow(rows *sql.Rows) error {
	var (
		role, state, spawnedAt                                   string
		specialization, boundaryConfig, metadata, externalSessID sql.NullString
	)
	if err := rows.Scan(
		&a.ID, &a.SessionID, &a.Name, &role, &specialization, &state,
		&spawnedAt, &boundaryConfig, &metadata, &externalSessID, &a.ToolCallCount,
	); err != nil {
		return err
	}
	a.Role = AgentRole(role)
	a.State = AgentState(state)
	t, err := parseTimeAny(spawnedAt)
	if err != nil {
		return err
	}
	a.SpawnedAt = t
	a.Specialization = nullStringPtr(specialization)
	if boundaryConfig.Valid {
		a.BoundaryConfig = json.RawMessage(boundaryConfig.String)
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &a.Metadata); err != nil {
			return err
		}
	}
	a.ExternalSessionID = nullStringPtr(externalSessID)
	return nil
}
