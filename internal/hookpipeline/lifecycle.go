package hookpipeline

import (
	"bytes"
	"context"
	"fmt"

	"github.com/basket/khoregos/internal/audit"
	"github.com/basket/khoregos/internal/config"
	"github.com/basket/khoregos/internal/models"
	"github.com/basket/khoregos/internal/otel"
	"github.com/basket/khoregos/internal/signing"
	"github.com/basket/khoregos/internal/state"
	"github.com/basket/khoregos/internal/store"
)

// lifecycleContext bundles the store/session handles the three sibling
// hooks share with Run, so subagent-start, subagent-stop, and session-stop
// don't each re-derive them by hand.
type lifecycleContext struct {
	root      string
	sessionID string
	store     *store.Store
	stateMgr  *state.Manager
	session   models.Session
	logger    *audit.AuditLogger
}

// open resolves the project root, the active governance session, and a
// ready AuditLogger. ok is false whenever any prerequisite is missing,
// which the caller treats as a silent no-op.
func (p *Pipeline) open(ctx context.Context, cwd string) (lifecycleContext, bool) {
	root, ok := ResolveProjectRoot(cwd)
	if !ok {
		return lifecycleContext{}, false
	}

	fields := state.NewDaemonState(config.StateDir(root)).Read()
	if fields.SessionID == "" {
		return lifecycleContext{}, false
	}

	s := store.New(config.StateDir(root))
	if err := s.Connect(ctx); err != nil {
		p.Logger.Warn("hook: connect store failed", "error", err)
		return lifecycleContext{}, false
	}

	stateMgr := state.New(s)
	session, found, err := stateMgr.GetSession(ctx, fields.SessionID)
	if err != nil || !found {
		p.Logger.Warn("hook: session lookup failed", "session_id", fields.SessionID, "error", err)
		_ = s.Close()
		return lifecycleContext{}, false
	}

	signingKey, _, err := signing.LoadKey(config.StateDir(root))
	if err != nil {
		p.Logger.Warn("hook: load signing key failed", "error", err)
	}

	logger, err := audit.NewAuditLogger(ctx, s, fields.SessionID, derefOrEmpty(session.TraceID), signingKey, p.Bus, p.Metrics)
	if err != nil {
		p.Logger.Warn("hook: start audit logger failed", "error", err)
		_ = s.Close()
		return lifecycleContext{}, false
	}

	return lifecycleContext{
		root: root, sessionID: fields.SessionID, store: s,
		stateMgr: stateMgr, session: session, logger: logger,
	}, true
}

func (lc lifecycleContext) close() {
	_ = lc.store.Close()
}

// RunSubagentStart handles the SubagentStart hook: registers or resolves
// the spawned agent and logs an agent_spawn event.
func (p *Pipeline) RunSubagentStart(ctx context.Context, cwd string, stdin []byte) {
	in, ok := ReadInput(bytes.NewReader(stdin))
	if !ok {
		return
	}
	lc, ok := p.open(ctx, cwd)
	if !ok {
		return
	}
	defer lc.close()

	agent, err := p.identifyAgent(ctx, lc.stateMgr, lc.sessionID, in.SessionID)
	if err != nil {
		p.Logger.Warn("hook: agent identification failed", "error", err)
		return
	}

	if _, err := lc.logger.Log(ctx, audit.LogInput{
		EventType: models.EventAgentSpawn,
		Action:    fmt.Sprintf("agent spawned: %s", agent.Name),
		AgentID:   &agent.ID,
		Details: map[string]any{
			"tool_name":  in.ToolName,
			"tool_input": truncateAny(in.ToolInput, actionDetailMaxLen),
		},
	}); err != nil {
		p.Logger.Warn("hook: log agent_spawn event failed", "error", err)
	}
}

// RunSubagentStop handles the SubagentStop hook: marks the agent
// completed and logs an agent_complete event.
func (p *Pipeline) RunSubagentStop(ctx context.Context, cwd string, stdin []byte) {
	in, ok := ReadInput(bytes.NewReader(stdin))
	if !ok {
		return
	}
	lc, ok := p.open(ctx, cwd)
	if !ok {
		return
	}
	defer lc.close()

	agent, err := p.identifyAgent(ctx, lc.stateMgr, lc.sessionID, in.SessionID)
	if err != nil {
		p.Logger.Warn("hook: agent identification failed", "error", err)
		return
	}

	agent.State = models.AgentCompleted
	if err := lc.stateMgr.UpdateAgent(ctx, agent); err != nil {
		p.Logger.Warn("hook: mark agent completed failed", "agent_id", agent.ID, "error", err)
	}

	if _, err := lc.logger.Log(ctx, audit.LogInput{
		EventType: models.EventAgentComplete,
		Action:    fmt.Sprintf("agent completed: %s", agent.Name),
		AgentID:   &agent.ID,
	}); err != nil {
		p.Logger.Warn("hook: log agent_complete event failed", "error", err)
	}
}

// RunSessionStop handles the Stop hook: logs session_complete, marks the
// session completed, and removes the daemon state file so IsRunning
// reports false for any hook invoked afterward.
func (p *Pipeline) RunSessionStop(ctx context.Context, cwd string, stdin []byte) {
	// A missing or malformed payload still ends the session: the host tool
	// is exiting regardless of whether it managed to send a body.
	in, _ := ReadInput(bytes.NewReader(stdin))

	lc, ok := p.open(ctx, cwd)
	if !ok {
		return
	}
	defer lc.close()

	if _, err := lc.logger.Log(ctx, audit.LogInput{
		EventType: models.EventSessionComplete,
		Action:    "session ended",
		Details:   map[string]any{"external_session_id": in.SessionID},
	}); err != nil {
		p.Logger.Warn("hook: log session_complete event failed", "error", err)
	}

	if err := lc.stateMgr.MarkSessionCompleted(ctx, lc.sessionID, nil); err != nil {
		p.Logger.Warn("hook: mark session completed failed", "session_id", lc.sessionID, "error", err)
	}

	if err := state.NewDaemonState(config.StateDir(lc.root)).Remove(); err != nil {
		p.Logger.Warn("hook: remove daemon state failed", "error", err)
	}
}
