// Copyright 2025 James Ross
package normalize

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Value recursively converts datastore-native values to portable scalars:
// a native identifier becomes its canonical 24-hex string, a timestamp
// becomes ISO-8601 in UTC with millisecond precision, ordered sequences are
// normalized element-wise, and keyed mappings are normalized value-wise with
// keys preserved. All other scalars pass through unchanged.
//
// Value is idempotent: Value(Value(v)) == Value(v) for any v, since every
// branch below produces a type (string, or a recursively-normalized
// container of strings) that falls through unchanged on a second pass.
func Value(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.ObjectID:
		return t.Hex()
	case *bson.ObjectID:
		if t == nil {
			return nil
		}
		return t.Hex()
	case bson.DateTime:
		return isoUTCMillis(t.Time())
	case time.Time:
		return isoUTCMillis(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return isoUTCMillis(*t)
	case bson.D:
		out := bson.M{}
		for _, e := range t {
			out[e.Key] = Value(e.Value)
		}
		return out
	case bson.M:
		out := make(bson.M, len(t))
		for k, v := range t {
			out[k] = Value(v)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, v := range t {
			out[k] = Value(v)
		}
		return out
	case bson.A:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = Value(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = Value(e)
		}
		return out
	default:
		return v
	}
}

func isoUTCMillis(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// Row normalizes every value of a row mapping. Key order is not preserved
// since map[string]interface{} carries none; callers needing the source
// document's field order (the format generators derive their header from
// it) should use OrderedRow instead.
func Row(row map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		out[k] = Value(v)
	}
	return out
}

// OrderedRow normalizes a bson.D document's values while preserving its
// field order, so the first row pulled from a cursor can govern the
// format generators' header/schema as spec'd.
func OrderedRow(d bson.D) bson.D {
	out := make(bson.D, len(d))
	for i, e := range d {
		out[i] = bson.E{Key: e.Key, Value: Value(e.Value)}
	}
	return out
}
