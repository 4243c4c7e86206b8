// Package state persists the lifecycle of sessions, agents, and per-session
// key/value context on top of the generic store.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/basket/khoregos/internal/models"
	"github.com/basket/khoregos/internal/shared"
	"github.com/basket/khoregos/internal/store"
)

// Manager tracks session, agent, and context lifecycle. Sessions progress
// created -> active -> paused|completed|failed; at most one session with
// state in {created, active} is expected to be open per project, but that
// invariant is enforced by the caller's lifecycle state file, not here.
type Manager struct {
	store *store.Store
}

// New returns a Manager bound to s.
func New(s *store.Store) *Manager {
	return &Manager{store: s}
}

// CreateSessionInput is the caller-supplied shape for CreateSession.
type CreateSessionInput struct {
	Objective       string
	ConfigSnapshot  map[string]any
	ParentSessionID *string
}

// CreateSession inserts a new session in state created and assigns it a
// trace id.
func (m *Manager) CreateSession(ctx context.Context, in CreateSessionInput) (models.Session, error) {
	traceID := shared.NewTraceID()
	config, err := marshalConfig(in.ConfigSnapshot)
	if err != nil {
		return models.Session{}, fmt.Errorf("marshal config snapshot: %w", err)
	}
	session := models.Session{
		ID:              shared.NewULID(),
		Objective:       in.Objective,
		State:           models.SessionCreated,
		StartedAt:       time.Now().UTC(),
		ParentSessionID: in.ParentSessionID,
		ConfigSnapshot:  config,
		TraceID:         &traceID,
	}
	row, err := session.ToRow()
	if err != nil {
		return models.Session{}, fmt.Errorf("serialize session: %w", err)
	}
	if _, err := m.store.Insert(ctx, "sessions", row); err != nil {
		return models.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

// GetSession looks up a session by id. It returns (Session{}, false, nil)
// when no such session exists.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (models.Session, bool, error) {
	return m.fetchOneSession(ctx,
		fmt.Sprintf("SELECT %s FROM sessions WHERE id = ?", strings.Join(models.SessionColumns, ", ")),
		[]any{sessionID},
	)
}

// GetLatestSession returns the most recently started session, regardless
// of state.
func (m *Manager) GetLatestSession(ctx context.Context) (models.Session, bool, error) {
	return m.fetchOneSession(ctx,
		fmt.Sprintf("SELECT %s FROM sessions ORDER BY started_at DESC LIMIT 1", strings.Join(models.SessionColumns, ", ")),
		nil,
	)
}

// GetActiveSession returns the newest session still in state created or
// active, if any.
func (m *Manager) GetActiveSession(ctx context.Context) (models.Session, bool, error) {
	return m.fetchOneSession(ctx,
		fmt.Sprintf("SELECT %s FROM sessions WHERE state IN ('created', 'active') ORDER BY started_at DESC LIMIT 1", strings.Join(models.SessionColumns, ", ")),
		nil,
	)
}

// ListSessionsInput narrows ListSessions. A zero State applies no filter.
type ListSessionsInput struct {
	Limit  int
	Offset int
	State  models.SessionState
}

// ListSessions returns sessions newest-first with optional state
// filtering and pagination.
func (m *Manager) ListSessions(ctx context.Context, in ListSessionsInput) ([]models.Session, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf("SELECT %s FROM sessions", strings.Join(models.SessionColumns, ", "))
	params := []any{}
	if in.State != "" {
		query += " WHERE state = ?"
		params = append(params, string(in.State))
	}
	query += " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	params = append(params, limit, in.Offset)

	var sessions []models.Session
	err := m.store.FetchAll(ctx, query, params, func(rows *sql.Rows) error {
		var s models.Session
		if err := s.ScanRow(rows); err != nil {
			return err
		}
		sessions = append(sessions, s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSession persists the full row for an already-loaded session.
func (m *Manager) UpdateSession(ctx context.Context, session models.Session) error {
	row, err := session.ToRow()
	if err != nil {
		return fmt.Errorf("serialize session: %w", err)
	}
	if _, err := m.store.Update(ctx, "sessions", row, "id = ?", session.ID); err != nil {
		return fmt.Errorf("update session %s: %w", session.ID, err)
	}
	return nil
}

// MarkSessionActive transitions a session to active.
func (m *Manager) MarkSessionActive(ctx context.Context, sessionID string) error {
	_, err := m.store.Update(ctx, "sessions", map[string]any{"state": string(models.SessionActive)}, "id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("mark session %s active: %w", sessionID, err)
	}
	return nil
}

// MarkSessionPaused transitions a session to paused.
func (m *Manager) MarkSessionPaused(ctx context.Context, sessionID string) error {
	_, err := m.store.Update(ctx, "sessions", map[string]any{"state": string(models.SessionPaused)}, "id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("mark session %s paused: %w", sessionID, err)
	}
	return nil
}

// MarkSessionCompleted transitions a session to completed, stamping
// ended_at and optionally storing a closing summary.
func (m *Manager) MarkSessionCompleted(ctx context.Context, sessionID string, summary *string) error {
	set := map[string]any{
		"state":    string(models.SessionCompleted),
		"ended_at": time.Now().UTC().Format(models.TimeLayout),
	}
	if summary != nil && *summary != "" {
		set["context_summary"] = *summary
	}
	if _, err := m.store.Update(ctx, "sessions", set, "id = ?", sessionID); err != nil {
		return fmt.Errorf("mark session %s completed: %w", sessionID, err)
	}
	return nil
}

// MarkSessionFailed transitions a session to failed, stamping ended_at.
func (m *Manager) MarkSessionFailed(ctx context.Context, sessionID string) error {
	set := map[string]any{
		"state":    string(models.SessionFailed),
		"ended_at": time.Now().UTC().Format(models.TimeLayout),
	}
	if _, err := m.store.Update(ctx, "sessions", set, "id = ?", sessionID); err != nil {
		return fmt.Errorf("mark session %s failed: %w", sessionID, err)
	}
	return nil
}

func (m *Manager) fetchOneSession(ctx context.Context, query string, params []any) (models.Session, bool, error) {
	var session models.Session
	found := false
	err := m.store.FetchAll(ctx, query, params, func(rows *sql.Rows) error {
		found = true
		return session.ScanRow(rows)
	})
	if err != nil {
		return models.Session{}, false, fmt.Errorf("fetch session: %w", err)
	}
	return session, found, nil
}

func marshalConfig(config map[string]any) ([]byte, error) {
	if len(config) == 0 {
		return nil, nil
	}
	return json.Marshal(config)
}
