// Package report generates read-only summaries over a session's audit
// log: chain verification and the structured report the CLI's report/
// verify surface prints.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/basket/khoregos/internal/models"
	"github.com/basket/khoregos/internal/signing"
	"github.com/basket/khoregos/internal/store"
)

// loadEvents fetches every event of sessionID in ascending sequence order,
// the ordering both VerifyChain and Generate require.
func loadEvents(ctx context.Context, s *store.Store, sessionID string) ([]models.AuditEvent, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM audit_events WHERE session_id = ? ORDER BY sequence ASC",
		strings.Join(models.AuditEventColumns, ", "),
	)
	var events []models.AuditEvent
	err := s.FetchAll(ctx, query, []any{sessionID}, func(rows *sql.Rows) error {
		var e models.AuditEvent
		if err := e.ScanRow(rows); err != nil {
			return err
		}
		events = append(events, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load events for session %s: %w", sessionID, err)
	}
	return events, nil
}

// VerifySession loads a session's events and runs the HMAC chain verifier
// against them. An unsigned session (no event carries an hmac) verifies
// trivially valid: signing is opt-in per spec §4.2.
func VerifySession(ctx context.Context, s *store.Store, signingKey []byte, sessionID string) (signing.VerifyResult, error) {
	events, err := loadEvents(ctx, s, sessionID)
	if err != nil {
		return signing.VerifyResult{}, err
	}
	return signing.VerifyChain(signingKey, sessionID, events), nil
}

// EventSummary is one line of a report's event listing: the stored
// event_type together with its user-facing display mapping (spec §6).
type EventSummary struct {
	Sequence    int
	Timestamp   time.Time
	EventType   string
	DisplayName string
	Action      string
	Severity    string
	AgentID     *string
	FilesTouched []string
}

// AgentSummary is one row of a report's agent roster.
type AgentSummary struct {
	ID            string
	Name          string
	Role          string
	State         string
	ToolCallCount int
}

// ViolationSummary is one row of a report's violations listing.
type ViolationSummary struct {
	Timestamp         time.Time
	FilePath          string
	ViolationType     string
	EnforcementAction string
}

// Report is the structured output of Generate: everything the CLI's
// `report` and `verify` commands render as text or JSON.
type Report struct {
	Session      models.Session
	Agents       []AgentSummary
	Events       []EventSummary
	Violations   []ViolationSummary
	ChainResult  signing.VerifyResult
	EventCount   int
	SeverityTally map[string]int
}

// Generate assembles a full report for sessionID: session metadata, agent
// roster, event listing (severity-tallied), boundary violations, and a
// chain verification result. signingKey may be nil for an unsigned
// project; verification then reports every event as "missing" rather than
// failing outright.
func Generate(ctx context.Context, s *store.Store, signingKey []byte, sessionID string) (Report, error) {
	var session models.Session
	found := false
	err := s.FetchAll(ctx,
		fmt.Sprintf("SELECT %s FROM sessions WHERE id = ?", strings.Join(models.SessionColumns, ", ")),
		[]any{sessionID},
		func(rows *sql.Rows) error {
			found = true
			return session.ScanRow(rows)
		},
	)
	if err != nil {
		return Report{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if !found {
		return Report{}, fmt.Errorf("session %s not found", sessionID)
	}

	events, err := loadEvents(ctx, s, sessionID)
	if err != nil {
		return Report{}, err
	}

	agents, err := loadAgents(ctx, s, sessionID)
	if err != nil {
		return Report{}, err
	}

	violations, err := loadViolations(ctx, s, sessionID)
	if err != nil {
		return Report{}, err
	}

	tally := map[string]int{}
	summaries := make([]EventSummary, 0, len(events))
	for _, e := range events {
		tally[string(e.Severity)]++
		summaries = append(summaries, EventSummary{
			Sequence:     e.Sequence,
			Timestamp:    e.Timestamp,
			EventType:    string(e.EventType),
			DisplayName:  e.EventType.DisplayName(),
			Action:       e.Action,
			Severity:     string(e.Severity),
			AgentID:      e.AgentID,
			FilesTouched: e.FilesAffected,
		})
	}

	chainResult := signing.VerifyChain(signingKey, sessionID, events)

	return Report{
		Session:       session,
		Agents:        agents,
		Events:        summaries,
		Violations:    violations,
		ChainResult:   chainResult,
		EventCount:    len(events),
		SeverityTally: tally,
	}, nil
}

func loadAgents(ctx context.Context, s *store.Store, sessionID string) ([]AgentSummary, error) {
	query := fmt.Sprintf("SELECT %s FROM agents WHERE session_id = ? ORDER BY spawned_at ASC", strings.Join(models.AgentColumns, ", "))
	var out []AgentSummary
	err := s.FetchAll(ctx, query, []any{sessionID}, func(rows *sql.Rows) error {
		var a models.Agent
		if err := a.ScanRow(rows); err != nil {
			return err
		}
		out = append(out, AgentSummary{
			ID: a.ID, Name: a.Name, Role: string(a.Role),
			State: string(a.State), ToolCallCount: a.ToolCallCount,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load agents for session %s: %w", sessionID, err)
	}
	return out, nil
}

func loadViolations(ctx context.Context, s *store.Store, sessionID string) ([]ViolationSummary, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM boundary_violations WHERE session_id = ? ORDER BY timestamp DESC",
		strings.Join(models.BoundaryViolationColumns, ", "),
	)
	var out []ViolationSummary
	err := s.FetchAll(ctx, query, []any{sessionID}, func(rows *sql.Rows) error {
		var v models.BoundaryViolation
		if err := v.ScanRow(rows); err != nil {
			return err
		}
		out = append(out, ViolationSummary{
			Timestamp: v.Timestamp, FilePath: v.FilePath,
			ViolationType: string(v.ViolationType), EnforcementAction: string(v.EnforcementAction),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load violations for session %s: %w", sessionID, err)
	}
	return out, nil
}
