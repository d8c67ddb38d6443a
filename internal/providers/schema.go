package providers

import (
	"math"
	"strings"
)

// CleanSchemaForProvider normalizes a JSON-schema parameters block for one
// provider. Gateways reject schemas carrying draft metadata or vendor keys,
// and Gemini requires uppercase type tokens.
func CleanSchemaForProvider(provider string, schema map[string]interface{}) map[string]interface{} {
	cleaned := cleanSchema(schema)
	if provider == "gemini" {
		uppercaseSchemaTypes(cleaned)
	}
	return cleaned
}

func cleanSchema(schema map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		switch k {
		case "$schema", "$id", "additionalProperties", "default":
			continue
		}
		switch vv := v.(type) {
		case map[string]interface{}:
			out[k] = cleanSchema(vv)
		case []interface{}:
			arr := make([]interface{}, len(vv))
			for i, item := range vv {
				if m, ok := item.(map[string]interface{}); ok {
					arr[i] = cleanSchema(m)
				} else {
					arr[i] = item
				}
			}
			out[k] = arr
		default:
			out[k] = v
		}
	}
	return out
}

// uppercaseSchemaTypes rewrites JSON-schema "type" tokens in place to the
// Gemini convention (OBJECT, STRING, INTEGER, NUMBER, BOOLEAN, ARRAY).
func uppercaseSchemaTypes(schema map[string]interface{}) {
	for k, v := range schema {
		if k == "type" {
			if s, ok := v.(string); ok {
				schema[k] = strings.ToUpper(s)
			}
			continue
		}
		switch vv := v.(type) {
		case map[string]interface{}:
			uppercaseSchemaTypes(vv)
		case []interface{}:
			for _, item := range vv {
				if m, ok := item.(map[string]interface{}); ok {
					uppercaseSchemaTypes(m)
				}
			}
		}
	}
}

// ScrubNonFinite replaces ±Inf and NaN values with nil so payloads stay
// JSON-encodable. Operates recursively over maps and slices.
func ScrubNonFinite(v interface{}) interface{} {
	switch vv := v.(type) {
	case float64:
		if math.IsInf(vv, 0) || math.IsNaN(vv) {
			return nil
		}
		return vv
	case float32:
		f := float64(vv)
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return nil
		}
		return vv
	case map[string]interface{}:
		for k, item := range vv {
			vv[k] = ScrubNonFinite(item)
		}
		return vv
	case []interface{}:
		for i, item := range vv {
			vv[i] = ScrubNonFinite(item)
		}
		return vv
	default:
		return v
	}
}
