package gateway

import (
	"strings"

	"github.com/spf13/cast"
)

// decodeMap decodes a JSON object, returning an empty map on anything else.
func decodeMap(raw string) map[string]interface{} {
	var doc map[string]interface{}
	if err := json.UnmarshalFromString(raw, &doc); err != nil || doc == nil {
		return map[string]interface{}{}
	}
	return doc
}

// decodeList decodes a JSON document that may be an array, a single object,
// or an object wrapping the array under a known key. Always returns a slice
// so callers can iterate uniformly.
func decodeList(raw string) []interface{} {
	var doc interface{}
	if err := json.UnmarshalFromString(raw, &doc); err != nil {
		return nil
	}
	switch v := doc.(type) {
	case []interface{}:
		return v
	case map[string]interface{}:
		for _, key := range []string{"records", "messages", "contacts", "instances", "data"} {
			if inner, ok := v[key]; ok {
				if list, ok := inner.([]interface{}); ok {
					return list
				}
				// messages.records nesting in some v2 responses
				if m, ok := inner.(map[string]interface{}); ok {
					if list, ok := m["records"].([]interface{}); ok {
						return list
					}
				}
			}
		}
		return []interface{}{v}
	default:
		return nil
	}
}

// lookupPath walks a dotted path over decoded JSON, nil when any hop misses.
func lookupPath(doc interface{}, path string) interface{} {
	cur := doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

// probeString tries each dotted path in order and returns the first value
// that casts to a non-empty string.
func probeString(doc interface{}, paths ...string) string {
	for _, path := range paths {
		if v := lookupPath(doc, path); v != nil {
			if s := cast.ToString(v); s != "" {
				return s
			}
		}
	}
	return ""
}
