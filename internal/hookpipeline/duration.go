package hookpipeline

import "time"

// maxDurationMs discards implausible timing data (clock skew, a stalled
// tool call) rather than record it and skew the histogram.
const maxDurationMs = 3_600_000

// extractDurationMs resolves a tool call's duration from whichever of the
// payload's timing fields is present, preferring an explicit value over
// one derived from timestamps. ok is false when no usable value exists.
func extractDurationMs(in Input) (float64, bool) {
	if in.DurationMs != nil {
		return validDuration(*in.DurationMs)
	}
	if in.DurationMsCamel != nil {
		return validDuration(*in.DurationMsCamel)
	}
	if in.Timing != nil {
		for _, key := range []string{"duration_ms", "durationMs", "total_ms"} {
			if v, ok := in.Timing[key]; ok {
				if f, ok := toFloat(v); ok {
					return validDuration(f)
				}
			}
		}
	}
	if in.StartedAt != "" && in.EndedAt != "" {
		started, err1 := time.Parse(time.RFC3339Nano, in.StartedAt)
		ended, err2 := time.Parse(time.RFC3339Nano, in.EndedAt)
		if err1 == nil && err2 == nil {
			return validDuration(float64(ended.Sub(started).Milliseconds()))
		}
	}
	return 0, false
}

func validDuration(ms float64) (float64, bool) {
	if ms < 0 || ms > maxDurationMs {
		return 0, false
	}
	return ms, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
