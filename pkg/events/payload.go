package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// JSONSafe recursively converts a value into something encoding/json can
// always marshal. Maps and slices are rebuilt element-wise; times become
// RFC3339 strings; anything the encoder rejects is replaced by its string
// form.
func JSONSafe(v any) any {
	switch val := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case error:
		return val.Error()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = JSONSafe(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = JSONSafe(item)
		}
		return out
	case []string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		if _, err := json.Marshal(val); err == nil {
			return val
		}
		return fmt.Sprintf("%v", val)
	}
}

// Marshal serializes a payload after making it JSON-safe.
func Marshal(payload map[string]any) ([]byte, error) {
	safe := JSONSafe(payload)
	data, err := json.Marshal(safe)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event payload: %w", err)
	}
	return data, nil
}
