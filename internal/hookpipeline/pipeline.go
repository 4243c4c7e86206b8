// Package hookpipeline implements the short-lived post-tool-use hook
// subprocess: read one JSON payload from stdin, resolve it against a
// running governance session, and record whatever audit trail, resource
// accounting, and boundary enforcement that call requires.
package hookpipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/khoregos/internal/audit"
	"github.com/basket/khoregos/internal/boundary"
	"github.com/basket/khoregos/internal/bus"
	"github.com/basket/khoregos/internal/config"
	"github.com/basket/khoregos/internal/models"
	"github.com/basket/khoregos/internal/otel"
	"github.com/basket/khoregos/internal/signing"
	"github.com/basket/khoregos/internal/state"
	"github.com/basket/khoregos/internal/store"
)

// internalTools are agent bookkeeping calls with no governance meaning of
// their own; they never reach the audit trail.
var internalTools = map[string]bool{
	"TaskCreate": true, "TaskUpdate": true, "TaskDone": true, "TaskDelete": true,
	"TodoRead": true, "TodoWrite": true,
}

// writeLikeTools are the only tools strict-mode boundary enforcement acts
// on: read-only calls cannot violate a path boundary.
var writeLikeTools = map[string]bool{
	"Write": true, "Edit": true, "MultiEdit": true, "Bash": true,
}

const actionDetailMaxLen = 2000
const violatingContentMaxLen = 500

// Pipeline holds the process-lifetime dependencies a hook invocation
// shares: telemetry providers, which cmd/khoregos-hook always constructs
// as no-ops, since hook subprocesses do not read the project's telemetry
// configuration and must add no exporter latency to a tool call.
type Pipeline struct {
	Logger  *slog.Logger
	Metrics *otel.Metrics
	Tracer  trace.Tracer
	Bus     *bus.Bus
}

// New returns a Pipeline. Any of metrics, tracer, or b may be nil-valued
// no-ops; Logger must not be nil.
func New(logger *slog.Logger, metrics *otel.Metrics, tracer trace.Tracer, b *bus.Bus) *Pipeline {
	return &Pipeline{Logger: logger, Metrics: metrics, Tracer: tracer, Bus: b}
}

// Run executes one hook invocation. It never returns an error to a caller
// that would use it to set a non-zero exit status: every failure mode
// here is logged and swallowed, because a governance hook must never
// block or fail the tool call it observed.
func (p *Pipeline) Run(ctx context.Context, cwd string, stdin []byte) {
	in, ok := ReadInput(bytes.NewReader(stdin))
	if !ok {
		return
	}
	if internalTools[in.ToolName] {
		return
	}

	root, ok := ResolveProjectRoot(cwd)
	if !ok {
		return
	}

	daemon := state.NewDaemonState(config.StateDir(root))
	fields := daemon.Read()
	if fields.SessionID == "" {
		return
	}
	sessionID := fields.SessionID

	cfg, err := config.Load(root)
	if err != nil {
		p.Logger.Warn("hook: load config failed", "error", err)
		return
	}

	ctx, span := otel.StartHookSpan(ctx, p.Tracer, in.ToolName,
		otel.AttrSessionID.String(sessionID))
	defer span.End()

	s := store.New(config.StateDir(root))
	if err := s.Connect(ctx); err != nil {
		p.Logger.Warn("hook: connect store failed", "error", err)
		return
	}
	defer s.Close()

	stateMgr := state.New(s)
	session, found, err := stateMgr.GetSession(ctx, sessionID)
	if err != nil || !found {
		p.Logger.Warn("hook: session lookup failed", "session_id", sessionID, "error", err)
		return
	}

	agent, err := p.identifyAgent(ctx, stateMgr, sessionID, in.SessionID)
	if err != nil {
		p.Logger.Warn("hook: agent identification failed", "error", err)
		return
	}

	signingKey, _, err := signing.LoadKey(config.StateDir(root))
	if err != nil {
		p.Logger.Warn("hook: load signing key failed", "error", err)
	}

	logger, err := audit.NewAuditLogger(ctx, s, sessionID, derefOrEmpty(session.TraceID), signingKey, p.Bus, p.Metrics)
	if err != nil {
		p.Logger.Warn("hook: start audit logger failed", "error", err)
		return
	}

	files := filesAffected(in.ToolName, in.ToolInput)
	action := buildAction(in.ToolName, in.ToolInput, files)

	newCount, err := stateMgr.IncrementToolCallCount(ctx, agent.ID)
	if err != nil {
		p.Logger.Warn("hook: increment tool call count failed", "error", err)
	}

	enforcer := boundary.New(s, sessionID, root, cfg.Boundaries)
	agentBoundary, hasBoundary := enforcer.GetBoundaryForAgent(agent.Name)

	p.enforceResourceLimit(ctx, logger, agent, agentBoundary, hasBoundary, newCount)
	boundaryFlagged := p.enforceStrictMode(ctx, logger, enforcer, agent, agentBoundary, hasBoundary, in.ToolName, root, files)

	severity := classifySeverity(files, action, boundaryFlagged)
	details := map[string]any{
		"tool_name":   in.ToolName,
		"tool_input":  truncateAny(in.ToolInput, actionDetailMaxLen),
		"tool_use_id": in.ToolUseID,
	}
	if ms, ok := extractDurationMs(in); ok {
		details["duration_ms"] = ms
		if p.Metrics != nil {
			p.Metrics.HookDuration.Record(ctx, ms/1000.0, metric.WithAttributes(otel.AttrToolName.String(in.ToolName)))
		}
	}

	if _, err := logger.Log(ctx, audit.LogInput{
		EventType: models.EventToolUse,
		Action:    action,
		AgentID:   &agent.ID,
		Details:   details,
		Files:     files,
		Severity:  severity,
	}); err != nil {
		p.Logger.Warn("hook: persist tool_use event failed", "error", err)
		if p.Metrics != nil {
			p.Metrics.HookErrors.Add(ctx, 1, metric.WithAttributes(otel.AttrToolName.String(in.ToolName)))
		}
		return
	}

	if writeLikeTools[in.ToolName] {
		p.annotateSensitiveFiles(ctx, logger, cfg.ReviewRules, root, files, &agent.ID)
	}
	p.logDependencyChanges(ctx, logger, root, files, &agent.ID)
}

// identifyAgent resolves the agent to attribute this call to: the agent
// already bound to externalSessionID, the newest unassigned agent (bound
// on first use), or the implicit "primary" agent when neither applies.
func (p *Pipeline) identifyAgent(ctx context.Context, stateMgr *state.Manager, sessionID, externalSessionID string) (models.Agent, error) {
	if externalSessionID != "" {
		if agent, found, err := stateMgr.GetAgentByExternalSessionID(ctx, sessionID, externalSessionID); err != nil {
			return models.Agent{}, err
		} else if found {
			return agent, nil
		}
		if assigned, err := stateMgr.AssignExternalSessionToNewestUnassigned(ctx, sessionID, externalSessionID); err != nil {
			return models.Agent{}, err
		} else if assigned {
			agent, found, err := stateMgr.GetAgentByExternalSessionID(ctx, sessionID, externalSessionID)
			if err != nil {
				return models.Agent{}, err
			}
			if found {
				return agent, nil
			}
		}
	}

	agent, found, err := stateMgr.GetAgentByName(ctx, sessionID, "primary")
	if err != nil {
		return models.Agent{}, err
	}
	if found {
		return agent, nil
	}
	return stateMgr.RegisterAgent(ctx, state.RegisterAgentInput{
		SessionID: sessionID,
		Name:      "primary",
		Role:      models.AgentRoleLead,
	})
}

// enforceResourceLimit logs exactly one boundary_violation event the
// first time an agent's tool_call_count exceeds its boundary's limit.
func (p *Pipeline) enforceResourceLimit(ctx context.Context, logger *audit.AuditLogger, agent models.Agent, b config.Boundary, hasBoundary bool, newCount int) {
	if !hasBoundary || b.MaxToolCallsPerSession <= 0 {
		return
	}
	if newCount != b.MaxToolCallsPerSession+1 {
		return
	}
	if _, err := logger.Log(ctx, audit.LogInput{
		EventType: models.EventBoundaryViolation,
		Action:    fmt.Sprintf("tool call limit exceeded (%d/%d)", newCount, b.MaxToolCallsPerSession),
		AgentID:   &agent.ID,
		Severity:  models.SeverityWarning,
	}); err != nil {
		p.Logger.Warn("hook: log resource limit violation failed", "error", err)
	}
}

// enforceStrictMode reverts and records a violation for each affected
// path a strict-mode boundary denies, returning true if any was flagged.
func (p *Pipeline) enforceStrictMode(ctx context.Context, logger *audit.AuditLogger, enforcer *boundary.Enforcer, agent models.Agent, b config.Boundary, hasBoundary bool, toolName, root string, files []string) bool {
	if !hasBoundary || !boundary.IsStrict(b) || !writeLikeTools[toolName] {
		return false
	}

	flagged := false
	for _, relPath := range files {
		absPath := relPath
		if !filepath.IsAbs(absPath) {
			absPath = filepath.Join(root, relPath)
		}
		allowed, reason := enforcer.CheckPathAllowed(absPath, agent.Name)
		if allowed {
			continue
		}
		flagged = true

		violating := boundary.RevertFile(ctx, absPath, root)
		enforcementAction := models.EnforcementReverted
		if after, err := os.ReadFile(absPath); err == nil && bytes.Equal(after, violating) {
			enforcementAction = models.EnforcementRevertFailed
		}

		violationType := violationTypeFromReason(reason)
		if _, err := enforcer.RecordViolation(ctx, boundary.RecordViolationInput{
			FilePath:          relPath,
			AgentID:           &agent.ID,
			ViolationType:     violationType,
			EnforcementAction: enforcementAction,
			Details: map[string]any{
				"reason":            reason,
				"violating_content": truncateString(string(violating), violatingContentMaxLen),
			},
		}); err != nil {
			p.Logger.Warn("hook: record boundary violation failed", "error", err)
		}

		if _, err := logger.Log(ctx, audit.LogInput{
			EventType: models.EventBoundaryViolation,
			Action:    fmt.Sprintf("strict boundary violation: %s (%s)", relPath, reason),
			AgentID:   &agent.ID,
			Files:     []string{relPath},
			Severity:  models.SeverityCritical,
		}); err != nil {
			p.Logger.Warn("hook: log boundary violation event failed", "error", err)
		}
		if p.Metrics != nil {
			p.Metrics.BoundaryViolations.Add(ctx, 1, metric.WithAttributes(otel.AttrRevertOutcome.String(string(enforcementAction))))
		}
	}
	return flagged
}

func violationTypeFromReason(reason string) models.ViolationType {
	if strings.HasPrefix(reason, "Path matches forbidden pattern:") {
		return models.ViolationForbiddenPath
	}
	return models.ViolationOutsideAllowed
}

// annotateSensitiveFiles logs a gate_triggered event for every affected
// path matched by a configured review rule glob.
func (p *Pipeline) annotateSensitiveFiles(ctx context.Context, logger *audit.AuditLogger, rules []config.ReviewRule, root string, files []string, agentID *string) {
	for _, relPath := range files {
		for _, rule := range rules {
			if !boundary.MatchGlob(rule.Pattern, relPath) {
				continue
			}
			gateID := rule.Name
			if _, err := logger.Log(ctx, audit.LogInput{
				EventType: models.EventGateTriggered,
				Action:    fmt.Sprintf("review rule %q matched %s", rule.Name, relPath),
				AgentID:   agentID,
				Files:     []string{relPath},
				GateID:    &gateID,
				Severity:  models.SeverityWarning,
			}); err != nil {
				p.Logger.Warn("hook: log gate_triggered event failed", "error", err)
			}
		}
	}
}

// logDependencyChanges logs one event per added/removed/updated entry in
// any affected package.json against its last committed revision.
func (p *Pipeline) logDependencyChanges(ctx context.Context, logger *audit.AuditLogger, root string, files []string, agentID *string) {
	for _, relPath := range files {
		if filepath.Base(relPath) != "package.json" {
			continue
		}
		absPath := relPath
		if !filepath.IsAbs(absPath) {
			absPath = filepath.Join(root, relPath)
		}
		for _, change := range detectDependencyChanges(ctx, root, absPath) {
			if _, err := logger.Log(ctx, audit.LogInput{
				EventType: change.EventType,
				Action:    fmt.Sprintf("%s: %s %s", change.Section, change.Name, change.Detail),
				AgentID:   agentID,
				Files:     []string{relPath},
				Severity:  models.SeverityWarning,
			}); err != nil {
				p.Logger.Warn("hook: log dependency change event failed", "error", err)
			}
		}
	}
}

// buildAction renders a short human-readable summary of the tool call,
// used both as the audit event's action text and as input to dangerous-
// command severity classification.
func buildAction(toolName string, toolInput map[string]any, files []string) string {
	if toolName == "Bash" {
		command, _ := toolInput["command"].(string)
		return fmt.Sprintf("tool_use: bash - %s", truncateString(command, 120))
	}
	if (toolName == "Edit" || toolName == "Write" || toolName == "MultiEdit") && len(files) > 0 {
		return fmt.Sprintf("tool_use: %s - %s", strings.ToLower(toolName), files[0])
	}
	return fmt.Sprintf("tool_use: %s", toolName)
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...[truncated]"
}

func truncateAny(v any, max int) any {
	encoded, err := json.Marshal(v)
	if err != nil {
		return v
	}
	if len(encoded) <= max {
		return v
	}
	return string(encoded[:max]) + "...[truncated]"
}
