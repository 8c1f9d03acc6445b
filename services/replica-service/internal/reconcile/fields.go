package reconcile

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Payload fields arrive with loose typing: ids and versions may be JSON
// numbers or strings depending on which origin code path serialized them.

func intField(m map[string]any, key string) (int64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func strField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case json.Number:
		return s.String(), true
	default:
		return "", false
	}
}

func boolField(m map[string]any, key string) (bool, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case float64:
		return b != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "1", "true", "t":
			return true, true
		case "0", "false", "f", "":
			return false, true
		}
		return false, false
	default:
		return false, false
	}
}

// unwrap returns the nested object under key when present, else the payload
// itself. Deletion payloads sometimes wrap the snapshot, e.g.
// {"employee": {...}}.
func unwrap(m map[string]any, key string) map[string]any {
	if nested, ok := m[key].(map[string]any); ok {
		return nested
	}
	return m
}

// datePart strips the time component from an ISO-ish timestamp, keeping
// "YYYY-MM-DD".
func datePart(s string) string {
	if i := strings.IndexByte(s, 'T'); i > 0 {
		return s[:i]
	}
	return s
}

// skillIDs extracts the id set from an embedded skills list.
func skillIDs(m map[string]any) []int64 {
	raw, ok := m["skills"].([]any)
	if !ok {
		return nil
	}
	var ids []int64
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := intField(entry, "id"); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
