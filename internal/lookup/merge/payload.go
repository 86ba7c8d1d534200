package merge

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// obj is a decoded JSON object with lenient accessors. Provider payloads are
// loosely typed: numbers arrive as strings, scalars arrive wrapped in
// {"value": ...} objects, and lists hold either strings or objects.
type obj map[string]any

func decodeObject(raw json.RawMessage) (obj, bool) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil, false
	}
	return obj(m), true
}

// str returns the first non-empty string among keys.
func (o obj) str(keys ...string) string {
	for _, k := range keys {
		if s := asString(o[k]); s != "" {
			return s
		}
	}
	return ""
}

// num returns the first numeric value among keys.
func (o obj) num(keys ...string) (float64, bool) {
	for _, k := range keys {
		if f, ok := asNumber(o[k]); ok {
			return f, true
		}
	}
	return 0, false
}

func (o obj) integer(keys ...string) int {
	f, ok := o.num(keys...)
	if !ok || f < 0 {
		return 0
	}
	return int(f)
}

func (o obj) object(keys ...string) obj {
	for _, k := range keys {
		if m, ok := o[k].(map[string]any); ok {
			return obj(m)
		}
	}
	return nil
}

// objects returns list elements that are objects. A single object is treated
// as a one-element list.
func (o obj) objects(keys ...string) []obj {
	for _, k := range keys {
		switch v := o[k].(type) {
		case []any:
			out := make([]obj, 0, len(v))
			for _, item := range v {
				if m, ok := item.(map[string]any); ok {
					out = append(out, obj(m))
				}
			}
			if len(out) > 0 {
				return out
			}
		case map[string]any:
			return []obj{obj(v)}
		}
	}
	return nil
}

// strings returns list elements that are scalars, or a single scalar.
func (o obj) strs(keys ...string) []string {
	for _, k := range keys {
		switch v := o[k].(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s := asString(item); s != "" {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return []string{s}
			}
		}
	}
	return nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any:
		return asString(t["value"])
	default:
		return ""
	}
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	case map[string]any:
		return asNumber(t["value"])
	default:
		return 0, false
	}
}

// normalizeConfidence clamps c into [0,1]. Values in (1,100] are read as percentages.
func normalizeConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c) || c <= 0:
		return 0
	case c <= 1:
		return c
	case c <= 100:
		return c / 100
	default:
		return 1
	}
}
