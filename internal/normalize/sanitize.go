// Copyright 2025 James Ross
package normalize

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// SanitizeFilters returns a new mapping keeping only keys that do not begin
// with "$" and contain no ".". Nested mappings are sanitized recursively;
// arrays and scalars pass through unchanged (arrays are never sanitized into
// mappings, even if they contain map elements). If m is not a string-keyed
// mapping, an empty mapping is returned.
//
// The datastore interprets "$"-prefixed keys as query operators and dotted
// keys as path traversals; neither may originate from untrusted filter input.
func SanitizeFilters(m interface{}) map[string]interface{} {
	asMap, ok := toStringMap(m)
	if !ok {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(asMap))
	for k, v := range asMap {
		if strings.HasPrefix(k, "$") || strings.Contains(k, ".") {
			continue
		}
		if nested, ok := toStringMap(v); ok {
			out[k] = SanitizeFilters(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func toStringMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case bson.M:
		return map[string]interface{}(t), true
	default:
		return nil, false
	}
}
