package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// ViolationType is the closed set of BoundaryViolation causes.
type ViolationType string

const (
	ViolationForbiddenPath  ViolationType = "forbidden_path"
	ViolationOutsideAllowed ViolationType = "outside_allowed"
)

// EnforcementAction is the closed set of outcomes the boundary enforcer can
// record for a violation.
type EnforcementAction string

const (
	EnforcementLogged       EnforcementAction = "logged"
	EnforcementBlocked      EnforcementAction = "blocked"
	EnforcementReverted     EnforcementAction = "reverted"
	EnforcementRevertFailed EnforcementAction = "revert_failed"
)

// BoundaryViolationColumns is the ordered column list for CRUD and SELECT.
var BoundaryViolationColumns = []string{
	"id", "session_id", "agent_id", "timestamp", "file_path", "violation_type",
	"enforcement_action", "details",
}

// BoundaryViolation is an append-only record of a boundary denial.
type BoundaryViolation struct {
	ID                 string
	SessionID          string
	AgentID            *string
	Timestamp          time.Time
	FilePath           string
	ViolationType       ViolationType
	EnforcementAction  EnforcementAction
	Details            map[string]any
}

func (v BoundaryViolation) ToRow() (map[string]any, error) {
	details, err := marshalOrNil(v.Details)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":                  v.ID,
		"session_id":          v.SessionID,
		"agent_id":            v.AgentID,
		"timestamp":           v.Timestamp.UTC().Format(TimeLayout),
		"file_path":           v.FilePath,
		"violation_type":      string(v.ViolationType),
		"enforcement_action":  string(v.EnforcementAction),
		"details":             details,
	}, nil
}

// ScanRow reads one row produced by `SELECT <BoundaryViolationColumns> FROM
// boundary_violations`.
func (v *BoundaryViolation) ScanRow(rows *sql.Rows) error {
	var (
		timestamp, filePath, violationType, enforcementAction string
		agentID, details                                      sql.NullString
	)
	if err := rows.Scan(
		&v.ID, &v.SessionID, &agentID, &timestamp, &filePath,
		&violationType, &enforcementAction, &details,
	); err != nil {
		return err
	}
	v.FilePath = filePath
	v.ViolationType = ViolationType(violationType)
	v.EnforcementAction = EnforcementAction(enforcementAction)
	t, err := parseTimeAny(timestamp)
	if err != nil {
		return err
	}
	v.Timestamp = t
	v.AgentID = nullStringPtr(agentID)
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &v.Details); err != nil {
			return err
		}
	}
	return nil
}
