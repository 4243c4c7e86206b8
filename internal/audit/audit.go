// Package audit implements the per-session AuditLogger: sequence
// assignment, HMAC chaining, persistence, and post-persistence fan-out to
// telemetry, webhooks, and plugins over the shared event bus.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/khoregos/internal/bus"
	"github.com/basket/khoregos/internal/models"
	"github.com/basket/khoregos/internal/otel"
	"github.com/basket/khoregos/internal/shared"
	"github.com/basket/khoregos/internal/signing"
	"github.com/basket/khoregos/internal/store"
)

// LogInput is the caller-supplied shape for AuditLogger.Log; unset optional
// fields take their spec-defined defaults.
type LogInput struct {
	EventType models.EventType
	Action    string
	AgentID   *string
	Details   map[string]any
	Files     []string
	GateID    *string
	Severity  models.Severity // zero value defaults to SeverityInfo
}

// AuditLogger is bound to one session. It carries no in-memory sequence
// counter or HMAC chain tail: spec §5 requires every writer (including
// concurrent hook subprocesses sharing no memory) to compute
// max(sequence)+1 and re-read the previous row's hmac inside the same
// transaction that inserts the new row, so a stale in-process cache can
// never race another process's insert. Metrics and bus are optional: a nil
// value simply skips that side effect.
type AuditLogger struct {
	store      *store.Store
	sessionID  string
	traceID    string
	signingKey []byte
	bus        *bus.Bus
	metrics    *otel.Metrics

	mu             sync.Mutex
	signingEnabled bool
}

// NewAuditLogger constructs an AuditLogger for sessionID. It performs no
// I/O itself: sequence and hmac state is re-read fresh inside each Log
// call's transaction rather than cached at construction time.
func NewAuditLogger(ctx context.Context, s *store.Store, sessionID, traceID string, signingKey []byte, b *bus.Bus, metrics *otel.Metrics) (*AuditLogger, error) {
	l := &AuditLogger{
		store:          s,
		sessionID:      sessionID,
		traceID:        traceID,
		signingKey:     signingKey,
		bus:            b,
		metrics:        metrics,
		signingEnabled: len(signingKey) > 0,
	}
	return l, nil
}

// Stop is a no-op: every write is synchronous, so there is nothing to
// flush or drain on shutdown.
func (l *AuditLogger) Stop() {}

// Log assembles, optionally signs, and persists one audit event, then fires
// best-effort post-persistence side effects. Sequence assignment and hmac
// chaining happen inside a single store.Transaction: the MAX(sequence) read,
// the previous row's hmac read, and the insert all see the same commit
// point, so two processes racing to log against the same session can never
// both win the same sequence number.
func (l *AuditLogger) Log(ctx context.Context, in LogInput) (models.AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	severity := in.Severity
	if severity == "" {
		severity = models.SeverityInfo
	}
	details := in.Details
	if l.traceID != "" {
		if details == nil {
			details = map[string]any{}
		} else {
			merged := make(map[string]any, len(details)+1)
			for k, v := range details {
				merged[k] = v
			}
			details = merged
		}
		details["trace_id"] = l.traceID
	}

	var event models.AuditEvent
	err := l.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		var maxSequence int
		if err := tx.FetchOne(ctx,
			`SELECT COALESCE(MAX(sequence), 0) FROM audit_events WHERE session_id = ?`,
			[]any{l.sessionID}, &maxSequence,
		); err != nil {
			return fmt.Errorf("load max sequence: %w", err)
		}

		event = models.AuditEvent{
			ID:            shared.NewULID(),
			Sequence:      maxSequence + 1,
			SessionID:     l.sessionID,
			AgentID:       in.AgentID,
			Timestamp:     time.Now().UTC(),
			EventType:     in.EventType,
			Action:        in.Action,
			Details:       details,
			FilesAffected: in.Files,
			GateID:        in.GateID,
			Severity:      severity,
		}

		if l.signingEnabled {
			previousHMAC, err := l.previousHMACLocked(ctx, tx, maxSequence)
			if err != nil {
				return err
			}
			hmacVal, err := signing.ComputeHMAC(l.signingKey, previousHMAC, event)
			if err != nil {
				return fmt.Errorf("compute hmac: %w", err)
			}
			event.HMAC = &hmacVal
		}

		row, err := event.ToRow()
		if err != nil {
			return fmt.Errorf("serialize event: %w", err)
		}
		if _, err := tx.Insert(ctx, "audit_events", row); err != nil {
			return fmt.Errorf("persist audit event: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.AuditEvent{}, err
	}

	l.fireSideEffects(event)
	return event, nil
}

// previousHMACLocked re-reads the chain tail from inside the caller's
// transaction: the row at maxSequence, or the genesis value if the session
// has no events yet. Called with l.mu already held.
func (l *AuditLogger) previousHMACLocked(ctx context.Context, tx *store.Tx, maxSequence int) (string, error) {
	if maxSequence == 0 {
		return signing.Genesis(l.sessionID), nil
	}
	var lastHMAC string
	if err := tx.FetchOne(ctx,
		`SELECT COALESCE(hmac, '') FROM audit_events WHERE session_id = ? ORDER BY sequence DESC LIMIT 1`,
		[]any{l.sessionID}, &lastHMAC,
	); err != nil {
		return "", fmt.Errorf("load last hmac: %w", err)
	}
	if lastHMAC == "" {
		lastHMAC = signing.Genesis(l.sessionID)
	}
	return lastHMAC, nil
}

func (l *AuditLogger) fireSideEffects(event models.AuditEvent) {
	if l.metrics != nil {
		l.metrics.AuditEventsTotal.Add(context.Background(), 1, metric.WithAttributes(
			otel.AttrEventType.String(string(event.EventType)),
			otel.AttrSeverity.String(string(event.Severity)),
		))
	}
	if l.bus == nil {
		return
	}
	payload := bus.AuditEventPublished{
		SessionID: event.SessionID,
		TraceID:   l.traceID,
		EventType: string(event.EventType),
		Severity:  string(event.Severity),
	}
	if encoded, err := marshalEvent(event); err == nil {
		payload.Encoded = encoded
	}
	l.bus.Publish(bus.TopicAuditEvent, payload)
	if event.EventType == models.EventBoundaryViolation {
		l.bus.Publish(bus.TopicBoundaryViolation, payload)
	}
	if event.EventType == models.EventGateTriggered {
		l.bus.Publish(bus.TopicGateTriggered, payload)
	}
}

// marshalEvent renders the event as the JSON wire form embedded in webhook
// envelopes and bus payloads. This is deliberately distinct from
// signing.Canonicalize, which serializes for hashing rather than transport.
func marshalEvent(event models.AuditEvent) ([]byte, error) {
	return json.Marshal(struct {
		ID            string          `json:"id"`
		Sequence      int             `json:"sequence"`
		SessionID     string          `json:"session_id"`
		AgentID       *string         `json:"agent_id,omitempty"`
		Timestamp     time.Time       `json:"timestamp"`
		EventType     string          `json:"event_type"`
		Action        string          `json:"action"`
		Details       map[string]any  `json:"details,omitempty"`
		FilesAffected []string        `json:"files_affected,omitempty"`
		GateID        *string         `json:"gate_id,omitempty"`
		HMAC          *string         `json:"hmac,omitempty"`
		Severity      string          `json:"severity"`
	}{
		ID: event.ID, Sequence: event.Sequence, SessionID: event.SessionID,
		AgentID: event.AgentID, Timestamp: event.Timestamp, EventType: string(event.EventType),
		Action: event.Action, Details: event.Details, FilesAffected: event.FilesAffected,
		GateID: event.GateID, HMAC: event.HMAC, Severity: string(event.Severity),
	})
}
