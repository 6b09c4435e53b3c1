// Copyright 2025 James Ross
package reduce

import (
	goccyjson "github.com/goccy/go-json"
)

// canonicalGroupKey encodes the {groupBy[i] -> value} mapping as JSON with
// keys emitted in groupBy's own order, not sorted — the order the first row
// enumerated them in. Two groups with identical values under the same
// groupBy produce byte-identical keys, which is all the finalize step needs
// to sort and deduplicate on.
func canonicalGroupKey(groupBy []string, group map[string]interface{}) (string, error) {
	buf := make([]byte, 0, 64)
	buf = append(buf, '{')
	for i, field := range groupBy {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := goccyjson.Marshal(field)
		if err != nil {
			return "", err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		vb, err := goccyjson.Marshal(group[field])
		if err != nil {
			return "", err
		}
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return string(buf), nil
}
