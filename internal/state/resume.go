package state

import (
	"context"
	"fmt"
	"strings"
)

const resumeContextEntryLimit = 10
const resumeContextValuePreviewLimit = 100

// GenerateResumeContext composes a markdown summary of a session's
// objective, active agents, and saved context, suitable for seeding a
// resumed agent's initial prompt. It returns an empty string if the
// session is unknown.
func (m *Manager) GenerateResumeContext(ctx context.Context, sessionID string) (string, error) {
	session, found, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("generate resume context: %w", err)
	}
	if !found {
		return "", nil
	}

	agents, err := m.ListAgents(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("generate resume context: %w", err)
	}
	entries, err := m.LoadAllContext(ctx, sessionID, nil)
	if err != nil {
		return "", fmt.Errorf("generate resume context: %w", err)
	}

	var b strings.Builder
	b.WriteString("## Previous Session Context\n\n")
	fmt.Fprintf(&b, "**Objective**: %s\n", session.Objective)
	fmt.Fprintf(&b, "**Started**: %s\n\n", session.StartedAt.Format("2006-01-02 15:04"))

	if session.ContextSummary != nil && *session.ContextSummary != "" {
		b.WriteString("### Session Summary\n")
		b.WriteString(*session.ContextSummary)
		b.WriteString("\n\n")
	}

	if len(agents) > 0 {
		b.WriteString("### Active Agents\n")
		for _, agent := range agents {
			spec := ""
			if agent.Specialization != nil && *agent.Specialization != "" {
				spec = fmt.Sprintf(" (%s)", *agent.Specialization)
			}
			fmt.Fprintf(&b, "- **%s**%s: %s\n", agent.Name, spec, agent.State)
		}
		b.WriteString("\n")
	}

	if len(entries) > 0 {
		b.WriteString("### Saved Context\n")
		limit := len(entries)
		if limit > resumeContextEntryLimit {
			limit = resumeContextEntryLimit
		}
		for _, entry := range entries[:limit] {
			preview := string(entry.Value)
			if len(preview) > resumeContextValuePreviewLimit {
				preview = preview[:resumeContextValuePreviewLimit] + "..."
			}
			fmt.Fprintf(&b, "- **%s**: %s\n", entry.Key, preview)
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n", nil
}
