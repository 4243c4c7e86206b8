package models

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the fixed-width timestamp encoding used for every stored
// DATETIME column. Unlike time.RFC3339Nano (which drops trailing zero
// fractional digits), this always emits 9 fractional digits so lexical
// string comparison in SQL WHERE clauses agrees with chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// marshalOrNil JSON-encodes v, returning nil for an empty/nil map so the
// generic store writes a SQL NULL rather than the literal string "null" or
// "{}".
func marshalOrNil(v map[string]any) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

func marshalSliceOrNil(v []string) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal slice: %w", err)
	}
	return string(b), nil
}

func rawOrNil(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(TimeLayout)
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullStringToTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := parseTimeString(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// parseTimeAny accepts either a driver-native time.Time (mattn/go-sqlite3's
// default behaviour for DATETIME columns) or a string, since the exact
// representation depends on driver configuration.
func parseTimeAny(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return parseTimeString(t)
	case []byte:
		return parseTimeString(string(t))
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unsupported time representation %T", v)
	}
}

func parseTimeString(s string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format %q", s)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	case []byte:
		return len(t) == 1 && t[0] != 0
	default:
		return false
	}
}
