package signing

import (
	"encoding/json"
	"fmt"

	"github.com/basket/khoregos/internal/models"
)

// Canonicalize renders an audit event as a byte-stable JSON object with the
// hmac field excluded: no whitespace, UTF-8, no trailing newline. Go's
// encoding/json already emits map keys in ascending byte order and compact
// form, so building the canonical map and marshaling it satisfies the
// contract directly.
func Canonicalize(e models.AuditEvent) ([]byte, error) {
	m := map[string]any{
		"id":             e.ID,
		"sequence":       e.Sequence,
		"session_id":     e.SessionID,
		"agent_id":       stringPtrOrNil(e.AgentID),
		"timestamp":      e.Timestamp.UTC().Format(models.TimeLayout),
		"event_type":     string(e.EventType),
		"action":         e.Action,
		"details":        e.Details,
		"files_affected": e.FilesAffected,
		"gate_id":        stringPtrOrNil(e.GateID),
		"severity":       string(e.Severity),
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("canonicalize event %s: %w", e.ID, err)
	}
	return b, nil
}

func stringPtrOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
