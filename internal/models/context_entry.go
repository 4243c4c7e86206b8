package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// ContextEntryColumns is the ordered column list for CRUD and SELECT.
var ContextEntryColumns = []string{"key", "session_id", "agent_id", "value", "updated_at"}

// ContextEntry is a (key, session_id)-scoped value that survives across
// hook invocations. Writes are upserts: the store's InsertOrReplace
// collapses repeated saves under the same key.
type ContextEntry struct {
	Key       string
	SessionID string
	AgentID   *string
	Value     json.RawMessage
	UpdatedAt time.Time
}

func (c ContextEntry) ToRow() map[string]any {
	return map[string]any{
		"key":        c.Key,
		"session_id": c.SessionID,
		"agent_id":   c.AgentID,
		"value":      rawOrNil(c.Value),
		"updated_at": c.UpdatedAt.UTC().Format(TimeLayout),
	}
}

// ScanRow reads one row produced by `SELECT <ContextEntryColumns> FROM
// context_store`.
func (c *ContextEntry) ScanRow(rows *sql.Rows) error {
	var (
		updatedAt      string
		agentID, value sql.NullString
	)
	if err := rows.Scan(&c.Key, &c.SessionID, &agentID, &value, &updatedAt); err != nil {
		return err
	}
	t, err := parseTimeAny(updatedAt)
	if err != nil {
		return err
	}
	c.UpdatedAt = t
	c.AgentID = nullStringPtr(agentID)
	if value.Valid {
		c.Value = json.RawMessage(value.String)
	}
	return nil
}
