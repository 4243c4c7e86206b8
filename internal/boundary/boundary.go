// Package boundary decides whether an agent may touch a given path, records
// violations, and (in strict mode) reverts disallowed writes via git.
package boundary

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/basket/khoregos/internal/config"
	"github.com/basket/khoregos/internal/models"
	"github.com/basket/khoregos/internal/shared"
	"github.com/basket/khoregos/internal/store"
)

const (
	enforcementStrict = "strict"
	wildcardPattern   = "*"
)

// Enforcer is bound to one session and one set of boundary rules.
type Enforcer struct {
	store       *store.Store
	sessionID   string
	projectRoot string
	boundaries  []config.Boundary
}

// New returns an Enforcer for sessionID scoped to projectRoot.
func New(s *store.Store, sessionID, projectRoot string, boundaries []config.Boundary) *Enforcer {
	return &Enforcer{store: s, sessionID: sessionID, projectRoot: projectRoot, boundaries: boundaries}
}

// GetBoundaryForAgent returns the first boundary whose pattern matches
// agentName, falling back to the wildcard ("*") boundary if one exists.
func (e *Enforcer) GetBoundaryForAgent(agentName string) (config.Boundary, bool) {
	for _, b := range e.boundaries {
		if matchGlob(b.Pattern, agentName) {
			return b, true
		}
	}
	for _, b := range e.boundaries {
		if b.Pattern == wildcardPattern {
			return b, true
		}
	}
	return config.Boundary{}, false
}

// CheckPathAllowed decides whether agentName may touch path, returning a
// human-readable reason when denied.
func (e *Enforcer) CheckPathAllowed(path, agentName string) (allowed bool, reason string) {
	root := canonicalize(e.projectRoot)
	resolvedPath := path
	if !filepath.IsAbs(resolvedPath) {
		resolvedPath = filepath.Join(root, resolvedPath)
	}
	resolvedPath = canonicalize(resolvedPath)

	relative, err := filepath.Rel(root, resolvedPath)
	if err != nil || relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) || filepath.IsAbs(relative) {
		return false, "outside project root"
	}
	relative = filepath.ToSlash(relative)

	boundary, found := e.GetBoundaryForAgent(agentName)
	if !found {
		return false, "no boundary configured"
	}

	for _, pattern := range boundary.ForbiddenPaths {
		if matchGlob(pattern, relative) {
			return false, fmt.Sprintf("Path matches forbidden pattern: %s", pattern)
		}
	}

	if len(boundary.AllowedPaths) > 0 {
		for _, pattern := range boundary.AllowedPaths {
			if matchGlob(pattern, relative) {
				return true, ""
			}
		}
		return false, "does not match any allowed patterns"
	}

	return true, ""
}

// canonicalize resolves symlinks in path, falling back to lexical
// resolution when the path does not yet exist (e.g. a file about to be
// created) or symlink resolution otherwise fails.
func canonicalize(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	if abs, err := filepath.Abs(path); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(path)
}

// RecordViolationInput is the caller-supplied shape for RecordViolation.
type RecordViolationInput struct {
	FilePath          string
	AgentID           *string
	ViolationType     models.ViolationType
	EnforcementAction models.EnforcementAction
	Details           map[string]any
}

// RecordViolation persists a boundary_violations row and returns it.
func (e *Enforcer) RecordViolation(ctx context.Context, in RecordViolationInput) (models.BoundaryViolation, error) {
	violation := models.BoundaryViolation{
		ID:                shared.NewULID(),
		SessionID:         e.sessionID,
		AgentID:           in.AgentID,
		Timestamp:         time.Now().UTC(),
		FilePath:          in.FilePath,
		ViolationType:     in.ViolationType,
		EnforcementAction: in.EnforcementAction,
		Details:           in.Details,
	}
	row, err := violation.ToRow()
	if err != nil {
		return models.BoundaryViolation{}, fmt.Errorf("serialize violation: %w", err)
	}
	if _, err := e.store.Insert(ctx, "boundary_violations", row); err != nil {
		return models.BoundaryViolation{}, fmt.Errorf("insert violation: %w", err)
	}
	return violation, nil
}

// GetViolations returns this session's violations newest-first, optionally
// narrowed to one agent.
func (e *Enforcer) GetViolations(ctx context.Context, agentID string, limit int) ([]models.BoundaryViolation, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf("SELECT %s FROM boundary_violations WHERE session_id = ?", strings.Join(models.BoundaryViolationColumns, ", "))
	params := []any{e.sessionID}
	if agentID != "" {
		query += " AND agent_id = ?"
		params = append(params, agentID)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	params = append(params, limit)

	var violations []models.BoundaryViolation
	err := e.store.FetchAll(ctx, query, params, func(rows *sql.Rows) error {
		var v models.BoundaryViolation
		if err := v.ScanRow(rows); err != nil {
			return err
		}
		violations = append(violations, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch violations: %w", err)
	}
	return violations, nil
}

// BoundariesSummary is the MCP/CLI-facing view of an agent's applicable
// boundary.
type BoundariesSummary struct {
	Agent          string   `json:"agent"`
	HasBoundary    bool     `json:"has_boundary"`
	AllowedPaths   []string `json:"allowed_paths"`
	ForbiddenPaths []string `json:"forbidden_paths"`
	Enforcement    string   `json:"enforcement"`
}

// GetAgentBoundariesSummary reports the boundary applicable to agentName,
// or an unmatched summary with Enforcement "deny" when none applies.
func (e *Enforcer) GetAgentBoundariesSummary(agentName string) BoundariesSummary {
	boundary, found := e.GetBoundaryForAgent(agentName)
	if !found {
		return BoundariesSummary{
			Agent:          agentName,
			HasBoundary:    false,
			AllowedPaths:   []string{},
			ForbiddenPaths: []string{},
			Enforcement:    "deny",
		}
	}
	return BoundariesSummary{
		Agent:          agentName,
		HasBoundary:    true,
		AllowedPaths:   boundary.AllowedPaths,
		ForbiddenPaths: boundary.ForbiddenPaths,
		Enforcement:    boundary.Enforcement,
	}
}

// IsStrict reports whether a boundary's enforcement level is strict.
func IsStrict(b config.Boundary) bool {
	return strings.EqualFold(b.Enforcement, enforcementStrict)
}
