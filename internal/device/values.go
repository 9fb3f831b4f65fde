package device

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// ParseValue normalises a raw contact value: numbers become float64,
// "true"/"false" become bool, everything else passes through unchanged.
// Strings are trimmed before the numeric and boolean attempts.
func ParseValue(raw any) any {
	switch v := raw.(type) {
	case nil:
		return nil
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint8:
		return float64(v)
	case uint16:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case bool:
		return v
	case json.Number:
		return parseString(v.String())
	case []byte:
		return parseString(string(v))
	case string:
		return parseString(v)
	default:
		return raw
	}
}

func parseString(s string) any {
	trimmed := strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	switch {
	case strings.EqualFold(trimmed, "true"):
		return true
	case strings.EqualFold(trimmed, "false"):
		return false
	}
	return s
}

// AsFloat returns v as a float64 when it parses as a number.
func AsFloat(v any) (float64, bool) {
	f, ok := ParseValue(v).(float64)
	return f, ok
}

// ValuesEqual compares two values after ParseValue normalisation.
func ValuesEqual(a, b any) bool {
	a, b = ParseValue(a), ParseValue(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	}
	return reflect.DeepEqual(a, b)
}
