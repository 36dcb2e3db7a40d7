package store

import (
	"time"
)

// TimestampLayout is the layout of the created and modified attributes.
// It is fixed width, so stored timestamps sort as strings in time order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// parseTimestamp decodes a stored timestamp, returning the zero time for
// values that are absent or malformed.
func parseTimestamp(value any) time.Time {
	switch v := value.(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}
		}
		return t.UTC()
	case time.Time:
		return v.UTC()
	}
	return time.Time{}
}

// timestampValue normalises a caller-supplied modified value to TimestampLayout.
func timestampValue(value any, fallback time.Time) (string, bool) {
	switch v := value.(type) {
	case nil:
		return FormatTimestamp(fallback), true
	case time.Time:
		return FormatTimestamp(v), true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return "", false
		}
		return FormatTimestamp(t), true
	}
	return "", false
}

// mergeRecords merges multiple records; later values win.
func mergeRecords(recs ...Record) Record {
	result := make(Record)
	for _, r := range recs {
		for k, v := range r {
			result[k] = v
		}
	}
	return result
}

// cloneRecord deep-copies a record so callers cannot alias stored state.
func cloneRecord(rec Record) Record {
	if rec == nil {
		return nil
	}
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies maps and slices of attribute values.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = CloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = CloneValue(inner)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	}
	return v
}
