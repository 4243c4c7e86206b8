package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/basket/khoregos/internal/models"
)

// SaveContext upserts a context entry keyed by (session_id, key).
func (m *Manager) SaveContext(ctx context.Context, sessionID, key string, value any, agentID *string) (models.ContextEntry, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return models.ContextEntry{}, fmt.Errorf("marshal context value for key %s: %w", key, err)
	}
	entry := models.ContextEntry{
		Key:       key,
		SessionID: sessionID,
		AgentID:   agentID,
		Value:     encoded,
		UpdatedAt: time.Now().UTC(),
	}
	if _, err := m.store.InsertOrReplace(ctx, "context_store", entry.ToRow()); err != nil {
		return models.ContextEntry{}, fmt.Errorf("save context %s/%s: %w", sessionID, key, err)
	}
	return entry, nil
}

// LoadContext returns a single context entry, or (ContextEntry{}, false,
// nil) if it does not exist.
func (m *Manager) LoadContext(ctx context.Context, sessionID, key string) (models.ContextEntry, bool, error) {
	var entry models.ContextEntry
	found := false
	query := fmt.Sprintf("SELECT %s FROM context_store WHERE session_id = ? AND key = ?", strings.Join(models.ContextEntryColumns, ", "))
	err := m.store.FetchAll(ctx, query, []any{sessionID, key}, func(rows *sql.Rows) error {
		found = true
		return entry.ScanRow(rows)
	})
	if err != nil {
		return models.ContextEntry{}, false, fmt.Errorf("load context %s/%s: %w", sessionID, key, err)
	}
	return entry, found, nil
}

// LoadAllContext returns every context entry for a session, ordered by
// key, optionally narrowed to one agent.
func (m *Manager) LoadAllContext(ctx context.Context, sessionID string, agentID *string) ([]models.ContextEntry, error) {
	query := fmt.Sprintf("SELECT %s FROM context_store WHERE session_id = ?", strings.Join(models.ContextEntryColumns, ", "))
	params := []any{sessionID}
	if agentID != nil {
		query += " AND agent_id = ?"
		params = append(params, *agentID)
	}
	query += " ORDER BY key"

	var entries []models.ContextEntry
	err := m.store.FetchAll(ctx, query, params, func(rows *sql.Rows) error {
		var e models.ContextEntry
		if err := e.ScanRow(rows); err != nil {
			return err
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load all context for session %s: %w", sessionID, err)
	}
	return entries, nil
}

// DeleteContext removes a single context entry.
func (m *Manager) DeleteContext(ctx context.Context, sessionID, key string) error {
	if _, err := m.store.Delete(ctx, "context_store", "session_id = ? AND key = ?", sessionID, key); err != nil {
		return fmt.Errorf("delete context %s/%s: %w", sessionID, key, err)
	}
	return nil
}
