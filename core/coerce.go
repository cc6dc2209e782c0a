package core

import (
	"math"
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// isPrimitive reports whether values of f are returned by the store in
// their final form
func isPrimitive(f *Field) bool {
	l := f.leaf()
	if l == nil {
		return true
	}
	switch l.Kind {
	case KindString, KindBool, KindInt, KindFloat, KindFrameNumber, KindList:
		return true
	}
	return false
}

// coercer converts raw values of a resolved field into their Go form. A nil
// coercer only normalizes container types.
type coercer struct {
	field   *Field
	idToStr bool
}

func (c coercer) coerce(v any) any {
	return coerceValue(v, c.field.leaf(), c.idToStr)
}

func newCoercer(f *Field, idToStr bool) *coercer {
	if f == nil {
		return nil
	}
	return &coercer{field: f, idToStr: idToStr}
}

func coerceWith(c *coercer, v any) any {
	if c == nil {
		return normalize(v)
	}
	return c.coerce(v)
}

func coerceValue(v any, leaf *Field, idToStr bool) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bson.A:
		return coerceList([]any(val), leaf, idToStr)
	case []any:
		return coerceList(val, leaf, idToStr)
	case bson.ObjectID:
		if idToStr {
			return val.Hex()
		}
		return val
	case bson.DateTime:
		if leaf != nil && (leaf.Kind == KindDate || leaf.Kind == KindDateTime) {
			return val.Time().UTC()
		}
		return val
	}
	return normalize(v)
}

func coerceList(list []any, leaf *Field, idToStr bool) []any {
	out := make([]any, len(list))
	for i, item := range list {
		out[i] = coerceValue(item, leaf, idToStr)
	}
	return out
}

// normalize turns driver containers into plain Go slices and maps
func normalize(v any) any {
	switch val := v.(type) {
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	}
	return v
}

// docField looks up key in any of the document shapes the driver returns
func docField(doc any, key string) (any, bool) {
	switch d := doc.(type) {
	case bson.M:
		v, ok := d[key]
		return v, ok
	case map[string]any:
		v, ok := d[key]
		return v, ok
	case bson.D:
		for _, e := range d {
			if e.Key == key {
				return e.Value, true
			}
		}
	}
	return nil, false
}

func asList(v any) []any {
	switch l := v.(type) {
	case bson.A:
		return []any(l)
	case []any:
		return l
	}
	return nil
}

func asDocs(v any) []bson.M {
	list := asList(v)
	docs := make([]bson.M, 0, len(list))
	for _, item := range list {
		switch d := item.(type) {
		case bson.M:
			docs = append(docs, d)
		case map[string]any:
			docs = append(docs, bson.M(d))
		case bson.D:
			m := make(bson.M, len(d))
			for _, e := range d {
				m[e.Key] = e.Value
			}
			docs = append(docs, m)
		}
	}
	return docs
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	}
	return 0
}

// toFloat converts numbers and timestamps to float64. Timestamps become
// milliseconds since the epoch.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case bson.DateTime:
		return float64(n), true
	case time.Time:
		return float64(n.UnixMilli()), true
	}
	return math.NaN(), false
}

// hashableKey returns v if it can be used as a map key
func hashableKey(v any) any {
	if v == nil {
		return nil
	}
	if reflect.TypeOf(v).Comparable() {
		return v
	}
	return bsonString(v)
}

func bsonString(v any) string {
	b, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: v}}, false, false)
	if err != nil {
		return ""
	}
	return string(b)
}
