package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/basket/khoregos/internal/models"
	"github.com/basket/khoregos/internal/shared"
)

// RegisterAgentInput is the caller-supplied shape for RegisterAgent.
type RegisterAgentInput struct {
	SessionID      string
	Name           string
	Role           models.AgentRole
	Specialization *string
	BoundaryConfig map[string]any
}

// RegisterAgent inserts a new agent in state active with a zeroed tool
// call count.
func (m *Manager) RegisterAgent(ctx context.Context, in RegisterAgentInput) (models.Agent, error) {
	role := in.Role
	if role == "" {
		role = models.AgentRoleTeammate
	}
	boundaryConfig, err := marshalConfig(in.BoundaryConfig)
	if err != nil {
		return models.Agent{}, fmt.Errorf("marshal boundary config: %w", err)
	}
	agent := models.Agent{
		ID:             shared.NewULID(),
		SessionID:      in.SessionID,
		Name:           in.Name,
		Role:           role,
		Specialization: in.Specialization,
		State:          models.AgentActive,
		SpawnedAt:      time.Now().UTC(),
		BoundaryConfig: boundaryConfig,
		ToolCallCount:  0,
	}
	row, err := agent.ToRow()
	if err != nil {
		return models.Agent{}, fmt.Errorf("serialize agent: %w", err)
	}
	if _, err := m.store.Insert(ctx, "agents", row); err != nil {
		return models.Agent{}, fmt.Errorf("insert agent: %w", err)
	}
	return agent, nil
}

// GetAgent looks up an agent by id.
func (m *Manager) GetAgent(ctx context.Context, agentID string) (models.Agent, bool, error) {
	return m.fetchOneAgent(ctx,
		fmt.Sprintf("SELECT %s FROM agents WHERE id = ?", strings.Join(models.AgentColumns, ", ")),
		[]any{agentID},
	)
}

// GetAgentByName looks up an agent by (session_id, name). When more than
// one agent shares a name within a session, the first match wins.
func (m *Manager) GetAgentByName(ctx context.Context, sessionID, name string) (models.Agent, bool, error) {
	return m.fetchOneAgent(ctx,
		fmt.Sprintf(
			"SELECT %s FROM agents WHERE session_id = ? AND name = ? ORDER BY spawned_at ASC LIMIT 1",
			strings.Join(models.AgentColumns, ", "),
		),
		[]any{sessionID, name},
	)
}

// GetAgentByExternalSessionID looks up the agent bound to a coding
// assistant's own session identifier.
func (m *Manager) GetAgentByExternalSessionID(ctx context.Context, sessionID, externalSessionID string) (models.Agent, bool, error) {
	return m.fetchOneAgent(ctx,
		fmt.Sprintf("SELECT %s FROM agents WHERE session_id = ? AND external_session_id = ?", strings.Join(models.AgentColumns, ", ")),
		[]any{sessionID, externalSessionID},
	)
}

// AssignExternalSessionToNewestUnassigned binds externalSessionID to the
// most recently spawned agent in sessionID that has no external session id
// yet. It reports (false, nil) when no unassigned agent exists.
func (m *Manager) AssignExternalSessionToNewestUnassigned(ctx context.Context, sessionID, externalSessionID string) (bool, error) {
	agent, found, err := m.fetchOneAgent(ctx,
		fmt.Sprintf(
			"SELECT %s FROM agents WHERE session_id = ? AND external_session_id IS NULL ORDER BY spawned_at DESC LIMIT 1",
			strings.Join(models.AgentColumns, ", "),
		),
		[]any{sessionID},
	)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if _, err := m.store.Update(ctx, "agents", map[string]any{"external_session_id": externalSessionID}, "id = ?", agent.ID); err != nil {
		return false, fmt.Errorf("assign external session to agent %s: %w", agent.ID, err)
	}
	return true, nil
}

// IncrementToolCallCount atomically increments an agent's tool_call_count
// and returns the resulting value.
func (m *Manager) IncrementToolCallCount(ctx context.Context, agentID string) (int, error) {
	if err := m.execIncrement(ctx, agentID); err != nil {
		return 0, err
	}
	var count int
	if err := m.store.FetchOne(ctx, `SELECT tool_call_count FROM agents WHERE id = ?`, []any{agentID}, &count); err != nil {
		return 0, fmt.Errorf("read incremented tool_call_count for agent %s: %w", agentID, err)
	}
	return count, nil
}

func (m *Manager) execIncrement(ctx context.Context, agentID string) error {
	db, err := m.store.DB(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if _, err := db.ExecContext(ctx, `UPDATE agents SET tool_call_count = tool_call_count + 1 WHERE id = ?`, agentID); err != nil {
		return fmt.Errorf("increment tool_call_count for agent %s: %w", agentID, err)
	}
	return nil
}

// ListAgents returns a session's agents in spawn order.
func (m *Manager) ListAgents(ctx context.Context, sessionID string) ([]models.Agent, error) {
	var agents []models.Agent
	query := fmt.Sprintf("SELECT %s FROM agents WHERE session_id = ? ORDER BY spawned_at", strings.Join(models.AgentColumns, ", "))
	err := m.store.FetchAll(ctx, query, []any{sessionID}, func(rows *sql.Rows) error {
		var a models.Agent
		if err := a.ScanRow(rows); err != nil {
			return err
		}
		agents = append(agents, a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list agents for session %s: %w", sessionID, err)
	}
	return agents, nil
}

// UpdateAgent persists the full row for an already-loaded agent.
func (m *Manager) UpdateAgent(ctx context.Context, agent models.Agent) error {
	row, err := agent.ToRow()
	if err != nil {
		return fmt.Errorf("serialize agent: %w", err)
	}
	if _, err := m.store.Update(ctx, "agents", row, "id = ?", agent.ID); err != nil {
		return fmt.Errorf("update agent %s: %w", agent.ID, err)
	}
	return nil
}

func (m *Manager) fetchOneAgent(ctx context.Context, query string, params []any) (models.Agent, bool, error) {
	var agent models.Agent
	found := false
	err := m.store.FetchAll(ctx, query, params, func(rows *sql.Rows) error {
		found = true
		return agent.ScanRow(rows)
	})
	if err != nil {
		return models.Agent{}, false, fmt.Errorf("fetch agent: %w", err)
	}
	return agent, found, nil
}
