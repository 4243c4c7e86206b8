package hookpipeline

import (
	"encoding/json"
	"io"
)

// maxInputBytes bounds how much of stdin the pipeline will read. A hook
// payload larger than this is treated as truncated and the whole
// invocation becomes a no-op rather than risk parsing a partial JSON
// document into something misleading.
const maxInputBytes = 1 << 20 // 1 MiB

// Input is the JSON payload piped to a hook subprocess on stdin.
type Input struct {
	ToolName        string         `json:"tool_name"`
	ToolInput       map[string]any `json:"tool_input"`
	ToolResponse    any            `json:"tool_response"`
	SessionID       string         `json:"session_id"`
	ToolUseID       string         `json:"tool_use_id"`
	StartedAt       string         `json:"started_at"`
	EndedAt         string         `json:"ended_at"`
	DurationMs      *float64       `json:"duration_ms"`
	DurationMsCamel *float64       `json:"durationMs"`
	Timing          map[string]any `json:"timing"`
}

// ReadInput reads and parses a hook payload from r. ok is false when the
// payload is empty, malformed, or exceeds maxInputBytes: any of these
// makes the caller a no-op rather than an error, matching the pipeline's
// general rule that a hook subprocess must never fail loudly.
func ReadInput(r io.Reader) (Input, bool) {
	limited := io.LimitReader(r, maxInputBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return Input{}, false
	}
	if len(raw) == 0 || len(raw) > maxInputBytes {
		return Input{}, false
	}

	var in Input
	if err := json.Unmarshal(raw, &in); err != nil {
		return Input{}, false
	}
	if in.ToolName == "" {
		return Input{}, false
	}
	return in, true
}
