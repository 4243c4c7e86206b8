package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// EventType is the closed set of audit event tags. New categories require a
// spec change, not a plugin.
type EventType string

const (
	// File operations
	EventFileCreate EventType = "file_create"
	EventFileModify EventType = "file_modify"
	EventFileDelete EventType = "file_delete"

	// Session lifecycle
	EventSessionStart    EventType = "session_start"
	EventSessionPause    EventType = "session_pause"
	EventSessionResume   EventType = "session_resume"
	EventSessionComplete EventType = "session_complete"
	EventSessionFail     EventType = "session_fail"

	// Agent lifecycle
	EventAgentSpawn    EventType = "agent_spawn"
	EventAgentComplete EventType = "agent_complete"
	EventAgentFail     EventType = "agent_fail"

	// Task tracking
	EventTaskCreate   EventType = "task_create"
	EventTaskUpdate   EventType = "task_update"
	EventTaskComplete EventType = "task_complete"

	// Sensitive-file annotation
	EventGateTriggered EventType = "gate_triggered"

	// Boundary events
	EventBoundaryViolation EventType = "boundary_violation"
	EventBoundaryCheck     EventType = "boundary_check"

	// Lock events
	EventLockAcquired EventType = "lock_acquired"
	EventLockReleased EventType = "lock_released"
	EventLockDenied   EventType = "lock_denied"

	// Context events
	EventContextSaved  EventType = "context_saved"
	EventContextLoaded EventType = "context_loaded"

	// Dependency events
	EventDependencyAdded   EventType = "dependency_added"
	EventDependencyRemoved EventType = "dependency_removed"
	EventDependencyUpdated EventType = "dependency_updated"

	// Tool use
	EventToolUse EventType = "tool_use"

	// Generic log/system
	EventLog    EventType = "log"
	EventSystem EventType = "system"
)

// DisplayName maps the stored event_type to its user-facing form. The
// stored value never changes; only report/export consumers apply this.
func (e EventType) DisplayName() string {
	if e == EventGateTriggered {
		return "sensitive_needs_review"
	}
	return string(e)
}

// Severity is the closed set of AuditEvent severities.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AuditEventColumns is the ordered column list for CRUD and SELECT.
var AuditEventColumns = []string{
	"id", "sequence", "session_id", "agent_id", "timestamp", "event_type",
	"action", "details", "files_affected", "gate_id", "hmac", "severity",
}

// AuditEvent is one entry in a session's append-only, HMAC-chainable log.
type AuditEvent struct {
	ID            string
	Sequence      int
	SessionID     string
	AgentID       *string
	Timestamp     time.Time
	EventType     EventType
	Action        string
	Details       map[string]any
	FilesAffected []string
	GateID        *string
	HMAC          *string
	Severity      Severity
}

func (e AuditEvent) ToRow() (map[string]any, error) {
	details, err := marshalOrNil(e.Details)
	if err != nil {
		return nil, err
	}
	files, err := marshalSliceOrNil(e.FilesAffected)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":             e.ID,
		"sequence":       e.Sequence,
		"session_id":     e.SessionID,
		"agent_id":       e.AgentID,
		"timestamp":      e.Timestamp.UTC().Format(TimeLayout),
		"event_type":     string(e.EventType),
		"action":         e.Action,
		"details":        details,
		"files_affected": files,
		"gate_id":        e.GateID,
		"hmac":           e.HMAC,
		"severity":       string(e.Severity),
	}, nil
}

// ScanRow reads one row produced by `SELECT <AuditEventColumns> FROM
// audit_events`.
func (e *AuditEvent) ScanRow(rows *sql.Rows) error {
	var (
		eventType, action, timestamp, severity string
		agentID, details, filesAffected        sql.NullString
		gateID, hmac                           sql.NullString
	)
	if err := rows.Scan(
		&e.ID, &e.Sequence, &e.SessionID, &agentID, &timestamp, &eventType,
		&action, &details, &filesAffected, &gateID, &hmac, &severity,
	); err != nil {
		return err
	}
	e.EventType = EventType(eventType)
	e.Action = action
	e.Severity = Severity(severity)
	t, err := parseTimeAny(timestamp)
	if err != nil {
		return err
	}
	e.Timestamp = t
	e.AgentID = nullStringPtr(agentID)
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
			return err
		}
	}
	if filesAffected.Valid && filesAffected.String != "" {
		if err := json.Unmarshal([]byte(filesAffected.String), &e.FilesAffected); err != nil {
			return err
		}
	}
	e.GateID = nullStringPtr(gateID)
	e.HMAC = nullStringPtr(hmac)
	return nil
}
