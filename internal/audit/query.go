package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/basket/khoregos/internal/models"
)

// EventFilter narrows GetEvents. Zero-valued fields are not applied.
type EventFilter struct {
	Limit     int
	Offset    int
	EventType models.EventType
	AgentID   string
	Since     time.Time
	Severity  models.Severity
	TraceID   string
}

// GetEvents returns the session's events ordered by sequence descending,
// applying whichever filters are set.
func (l *AuditLogger) GetEvents(ctx context.Context, f EventFilter) ([]models.AuditEvent, error) {
	query := strings.Builder{}
	query.WriteString(fmt.Sprintf("SELECT %s FROM audit_events WHERE session_id = ?", strings.Join(models.AuditEventColumns, ", ")))
	params := []any{l.sessionID}

	if f.EventType != "" {
		query.WriteString(" AND event_type = ?")
		params = append(params, string(f.EventType))
	}
	if f.AgentID != "" {
		query.WriteString(" AND agent_id = ?")
		params = append(params, f.AgentID)
	}
	if !f.Since.IsZero() {
		query.WriteString(" AND timestamp >= ?")
		params = append(params, f.Since.UTC().Format(models.TimeLayout))
	}
	if f.Severity != "" {
		query.WriteString(" AND severity = ?")
		params = append(params, string(f.Severity))
	}
	if f.TraceID != "" {
		query.WriteString(" AND json_extract(details, '$.trace_id') = ?")
		params = append(params, f.TraceID)
	}

	query.WriteString(" ORDER BY sequence DESC")
	if f.Limit > 0 {
		query.WriteString(" LIMIT ?")
		params = append(params, f.Limit)
		if f.Offset > 0 {
			query.WriteString(" OFFSET ?")
			params = append(params, f.Offset)
		}
	}

	var events []models.AuditEvent
	err := l.store.FetchAll(ctx, query.String(), params, func(rows *sql.Rows) error {
		var e models.AuditEvent
		if err := e.ScanRow(rows); err != nil {
			return err
		}
		events = append(events, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch audit events: %w", err)
	}
	return events, nil
}

// GetEventCount returns the session's total event count.
func (l *AuditLogger) GetEventCount(ctx context.Context) (int, error) {
	var count int
	if err := l.store.FetchOne(ctx,
		`SELECT COUNT(1) FROM audit_events WHERE session_id = ?`,
		[]any{l.sessionID}, &count,
	); err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return count, nil
}
