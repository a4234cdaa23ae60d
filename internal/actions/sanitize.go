package actions

import (
	"encoding/json"
	"sort"
	"unicode/utf8"
)

// Bounds applied to plan step arguments before anything touches the
// database or the adapter.
const (
	maxListItems   = 100
	maxMapKeys     = 100
	maxStringLen   = 1024
	maxDepth       = 5
	maxPayloadSize = 64 * 1024
)

// SanitizeArgs reduces step arguments to bounded JSON primitives. Lists
// are capped at 100 items, maps at their first 100 keys in sorted
// order, strings truncated to 1024 characters. Values nested deeper
// than 5 levels become null, as does anything that is not a JSON value.
func SanitizeArgs(args map[string]any) map[string]any {
	cleaned, _ := sanitizeValue(args, 1).(map[string]any)
	if cleaned == nil {
		cleaned = map[string]any{}
	}
	return cleaned
}

// PayloadWithinLimit reports whether the sanitized args encode to at
// most 64 KiB.
func PayloadWithinLimit(args map[string]any) bool {
	raw, err := json.Marshal(args)
	if err != nil {
		return false
	}
	return len(raw) <= maxPayloadSize
}

func sanitizeValue(v any, depth int) any {
	if depth > maxDepth {
		return nil
	}

	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		return x
	case string:
		if len(x) <= maxStringLen {
			return x
		}
		cut := maxStringLen
		for cut > 0 && !utf8.RuneStart(x[cut]) {
			cut--
		}
		return x[:cut]
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return nil
	case []any:
		n := len(x)
		if n > maxListItems {
			n = maxListItems
		}
		out := make([]any, 0, n)
		for _, item := range x[:n] {
			out = append(out, sanitizeValue(item, depth+1))
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(x))
		for key := range x {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		if len(keys) > maxMapKeys {
			keys = keys[:maxMapKeys]
		}
		out := make(map[string]any, len(keys))
		for _, key := range keys {
			out[key] = sanitizeValue(x[key], depth+1)
		}
		return out
	default:
		return nil
	}
}
