// Package coerce converts free-text answers into typed values according to
// a caller supplied format hint.
package coerce

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	intRe   = regexp.MustCompile(`-?\d+`)
	floatRe = regexp.MustCompile(`-?\d+\.?\d*`)
)

// Coerce returns int64, float64, []any, map[string]any or string depending
// on hint. It never fails.
func Coerce(text, hint string) any {
	text = strings.TrimSpace(text)
	h := strings.ToLower(strings.TrimSpace(hint))

	switch {
	case h == "int":
		return toInt(text)
	case h == "float":
		return toFloat(text)
	case strings.Contains(h, "list"):
		return toList(text)
	case strings.Contains(h, "dict"):
		return toDict(text)
	default:
		return text
	}
}

func toInt(text string) int64 {
	m := intRe.FindString(text)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func toFloat(text string) float64 {
	m := floatRe.FindString(text)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func toList(text string) []any {
	if strings.HasPrefix(text, "[") {
		if v, ok := parseJSON(text).([]any); ok {
			return v
		}
	}
	if v, ok := parseLiteral(text).([]any); ok {
		return v
	}
	if strings.Contains(text, ",") {
		parts := strings.Split(text, ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = strings.TrimSpace(p)
		}
		return out
	}
	return []any{text}
}

func toDict(text string) map[string]any {
	if strings.HasPrefix(text, "{") {
		if v, ok := parseJSON(text).(map[string]any); ok {
			return v
		}
	}
	if v, ok := parseLiteral(text).(map[string]any); ok {
		return v
	}
	return map[string]any{"value": text}
}

// parseJSON returns nil when text is not a single JSON value.
func parseJSON(text string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	if dec.More() {
		return nil
	}
	out, ok := normalize(v)
	if !ok {
		return nil
	}
	return out
}

// parseLiteral accepts flow-style literals such as ['a', 'b'] or
// {'k': 1}, the single-quoted form models tend to emit.
func parseLiteral(text string) (out any) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()

	var v any
	if err := yaml.Unmarshal([]byte(text), &v); err != nil {
		return nil
	}
	if out, ok := normalize(v); ok {
		return out
	}
	return nil
}

// normalize converts numbers to int64 or float64 and map keys to strings.
// It reports false when v holds NaN or an infinity, which JSON cannot encode.
func normalize(v any) (any, bool) {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
		if f, err := val.Float64(); err == nil {
			return normalizeFloat(f)
		}
		return val.String(), true
	case int:
		return int64(val), true
	case int64:
		return val, true
	case uint64:
		if val <= math.MaxInt64 {
			return int64(val), true
		}
		return float64(val), true
	case float64:
		return normalizeFloat(val)
	case time.Time:
		return val.Format("2006-01-02"), true
	case []any:
		for i := range val {
			item, ok := normalize(val[i])
			if !ok {
				return nil, false
			}
			val[i] = item
		}
		return val, true
	case map[string]any:
		for k := range val {
			item, ok := normalize(val[k])
			if !ok {
				return nil, false
			}
			val[k] = item
		}
		return val, true
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			n, ok := normalize(item)
			if !ok {
				return nil, false
			}
			out[fmt.Sprint(k)] = n
		}
		return out, true
	default:
		return val, true
	}
}

func normalizeFloat(f float64) (any, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f), true
	}
	return f, true
}
