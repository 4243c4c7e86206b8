// Package plugin implements the best-effort out-of-tree extension surface
// (spec §4.9): a small set of named hook points that discovered plugins
// may implement, invoked only from long-lived processes.
package plugin

import (
	"context"
	"log/slog"
	"sync"

	"github.com/basket/khoregos/internal/bus"
)

// Entry declares one loadable extension: a module path resolved by the
// process's plugin loader, plus its configuration map.
type Entry struct {
	Module string
	Config map[string]string
}

// SessionEvent is the payload for on_session_start / on_session_stop.
type SessionEvent struct {
	SessionID string
	Objective string
}

// AuditEvent is the payload for on_audit_event.
type AuditEvent struct {
	SessionID string
	EventType string
	Severity  string
	Action    string
}

// ToolUseEvent is the payload for on_tool_use.
type ToolUseEvent struct {
	SessionID string
	AgentID   string
	ToolName  string
}

// GateEvent is the payload for on_gate_trigger.
type GateEvent struct {
	SessionID string
	GateID    string
	FilePath  string
}

// ViolationEvent is the payload for on_boundary_violation.
type ViolationEvent struct {
	SessionID         string
	FilePath          string
	ViolationType     string
	EnforcementAction string
}

// Plugin is the interface a discovered extension implements. Every method
// is optional in spirit: an implementation that does nothing for a given
// hook simply returns nil quickly. Hooks run synchronously from the
// Manager's perspective; a plugin wanting async work should return
// promptly and do the work in its own goroutine.
type Plugin struct {
	Name             string
	OnSessionStart   func(ctx context.Context, e SessionEvent) error
	OnSessionStop    func(ctx context.Context, e SessionEvent) error
	OnAuditEvent     func(ctx context.Context, e AuditEvent) error
	OnToolUse        func(ctx context.Context, e ToolUseEvent) error
	OnGateTrigger    func(ctx context.Context, e GateEvent) error
	OnBoundaryViolation func(ctx context.Context, e ViolationEvent) error
}

// Loader resolves an Entry's module path into a runnable Plugin. The core
// has no in-tree plugin implementations of its own; a real deployment
// supplies a Loader that dlopens or subprocess-launches the declared
// module. Tests supply a Loader backed by an in-memory registry.
type Loader func(entry Entry) (Plugin, error)

// Manager discovers plugins from configuration and dispatches hook points
// to them, catching and logging every failure so no plugin can affect
// audit persistence.
type Manager struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	plugins []Plugin
}

// NewManager loads every entry via loader, logging and skipping (not
// failing) any entry that errors: one broken plugin must not prevent the
// others, or the host process, from starting.
func NewManager(entries []Entry, loader Loader, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{logger: logger}
	for _, entry := range entries {
		p, err := loader(entry)
		if err != nil {
			logger.Warn("plugin: load failed", "module", entry.Module, "error", err)
			continue
		}
		m.plugins = append(m.plugins, p)
		logger.Info("plugin: loaded", "module", entry.Module, "name", p.Name)
	}
	return m
}

// Count returns the number of successfully loaded plugins.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.plugins)
}

func (m *Manager) invoke(name string, fn func(Plugin) error) {
	m.mu.RLock()
	plugins := m.plugins
	m.mu.RUnlock()
	for _, p := range plugins {
		if err := safeCall(fn, p); err != nil {
			m.logger.Warn("plugin: hook failed", "plugin", p.Name, "hook", name, "error", err)
		}
	}
}

// safeCall recovers a panicking hook implementation, treating it the same
// as a returned error: logged, never propagated.
func safeCall(fn func(Plugin) error, p Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	return fn(p)
}

type panicError struct{ v any }

func (e panicError) Error() string { return "plugin panicked" }

// OnSessionStart dispatches to every loaded plugin's OnSessionStart, if set.
func (m *Manager) OnSessionStart(ctx context.Context, e SessionEvent) {
	m.invoke("on_session_start", func(p Plugin) error {
		if p.OnSessionStart == nil {
			return nil
		}
		return p.OnSessionStart(ctx, e)
	})
}

// OnSessionStop dispatches to every loaded plugin's OnSessionStop, if set.
func (m *Manager) OnSessionStop(ctx context.Context, e SessionEvent) {
	m.invoke("on_session_stop", func(p Plugin) error {
		if p.OnSessionStop == nil {
			return nil
		}
		return p.OnSessionStop(ctx, e)
	})
}

// OnAuditEvent dispatches to every loaded plugin's OnAuditEvent, if set.
func (m *Manager) OnAuditEvent(ctx context.Context, e AuditEvent) {
	m.invoke("on_audit_event", func(p Plugin) error {
		if p.OnAuditEvent == nil {
			return nil
		}
		return p.OnAuditEvent(ctx, e)
	})
}

// OnToolUse dispatches to every loaded plugin's OnToolUse, if set.
func (m *Manager) OnToolUse(ctx context.Context, e ToolUseEvent) {
	m.invoke("on_tool_use", func(p Plugin) error {
		if p.OnToolUse == nil {
			return nil
		}
		return p.OnToolUse(ctx, e)
	})
}

// OnGateTrigger dispatches to every loaded plugin's OnGateTrigger, if set.
func (m *Manager) OnGateTrigger(ctx context.Context, e GateEvent) {
	m.invoke("on_gate_trigger", func(p Plugin) error {
		if p.OnGateTrigger == nil {
			return nil
		}
		return p.OnGateTrigger(ctx, e)
	})
}

// OnBoundaryViolation dispatches to every loaded plugin's
// OnBoundaryViolation, if set.
func (m *Manager) OnBoundaryViolation(ctx context.Context, e ViolationEvent) {
	m.invoke("on_boundary_violation", func(p Plugin) error {
		if p.OnBoundaryViolation == nil {
			return nil
		}
		return p.OnBoundaryViolation(ctx, e)
	})
}

// Bridge subscribes a Manager to the audit event bus, translating
// published audit/gate/violation events into the corresponding plugin
// hook. This is how AuditLogger's bus-based fan-out (spec §4.3 step 5)
// reaches OnAuditEvent/OnGateTrigger/OnBoundaryViolation without the
// hookpipeline package importing internal/plugin directly.
func Bridge(ctx context.Context, m *Manager, b *bus.Bus) {
	if m == nil || b == nil {
		return
	}
	sub := b.Subscribe("")
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-sub.Ch():
				if !ok {
					return
				}
				payload, ok := evt.Payload.(bus.AuditEventPublished)
				if !ok {
					continue
				}
				switch evt.Topic {
				case bus.TopicAuditEvent:
					m.OnAuditEvent(ctx, AuditEvent{
						SessionID: payload.SessionID, EventType: payload.EventType, Severity: payload.Severity,
					})
				case bus.TopicGateTriggered:
					m.OnGateTrigger(ctx, GateEvent{SessionID: payload.SessionID})
				case bus.TopicBoundaryViolation:
					m.OnBoundaryViolation(ctx, ViolationEvent{SessionID: payload.SessionID})
				}
			}
		}
	}()
}
