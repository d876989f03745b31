package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// FixToolCallArgs coerces a decoded tool-call argument map to match
// originalSchema's declared types where the coercion is lossless and
// unambiguous (e.g. the upstream returning "42" for an integer field), and
// otherwise leaves the value untouched rather than risk corrupting it
// (spec.md §4.6's destructive-coercion refusal).
func FixToolCallArgs(args map[string]interface{}, originalSchema map[string]interface{}) map[string]interface{} {
	props, _ := originalSchema["properties"].(map[string]interface{})
	if props == nil {
		return args
	}
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		propSchema, ok := props[k].(map[string]interface{})
		if !ok {
			out[k] = v
			continue
		}
		out[k] = coerceValue(v, propSchema)
	}
	return out
}

func coerceValue(v interface{}, propSchema map[string]interface{}) interface{} {
	wantType, _ := propSchema["type"].(string)
	switch wantType {
	case "integer":
		if coerced, ok := coerceToInteger(v); ok {
			return coerced
		}
	case "number":
		if coerced, ok := coerceToNumber(v); ok {
			return coerced
		}
	case "boolean":
		if coerced, ok := coerceToBool(v); ok {
			return coerced
		}
	case "string":
		if coerced, ok := coerceToString(v); ok {
			return coerced
		}
	}
	return v
}

// coerceToInteger refuses any string with a leading zero (other than the
// literal "0"), a leading '+', or surrounding whitespace — these indicate the
// value may carry meaning (a zip code, a padded ID) that integer coercion
// would destroy.
func coerceToInteger(v interface{}) (interface{}, bool) {
	switch t := v.(type) {
	case float64:
		if t == float64(int64(t)) {
			return int64(t), true
		}
		return nil, false
	case string:
		if t == "" || t != strings.TrimSpace(t) {
			return nil, false
		}
		if len(t) > 1 && (t[0] == '0' || t[0] == '+') {
			return nil, false
		}
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return nil, false
		}
		return n, true
	default:
		return nil, false
	}
}

func coerceToNumber(v interface{}) (interface{}, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		trimmed := strings.TrimSpace(t)
		if trimmed != t || trimmed == "" {
			return nil, false
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, false
		}
		return f, true
	default:
		return nil, false
	}
}

func coerceToBool(v interface{}) (interface{}, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(t) {
		case "true":
			return true, true
		case "false":
			return false, true
		default:
			return nil, false
		}
	default:
		return nil, false
	}
}

func coerceToString(v interface{}) (interface{}, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64, bool:
		return fmt.Sprintf("%v", t), true
	default:
		return nil, false
	}
}
