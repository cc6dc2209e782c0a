package core

import (
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Plain converts a result into values that encode cleanly as YAML, JSON or
// BSON. Object ids become hex strings and map keys become strings.
func Plain(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bson.ObjectID:
		return t.Hex()
	case bson.DateTime:
		return t.Time().UTC()
	case bson.Decimal128:
		return t.String()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Plain(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = Plain(item)
		}
		return out
	case map[any]int64:
		out := make(map[string]int64, len(t))
		for k, n := range t {
			out[fmt.Sprint(Plain(k))] = n
		}
		return out
	case CountValuesResult:
		values := make([]map[string]any, len(t.Values))
		for i, vc := range t.Values {
			values[i] = map[string]any{"value": Plain(vc.Value), "count": vc.Count}
		}
		return map[string]any{"count": t.Count, "values": values}
	case HistogramResult:
		return map[string]any{"counts": t.Counts, "edges": Plain(t.Edges), "other": t.Other}
	case BoundsResult:
		m := map[string]any{"min": Plain(t.Min), "max": Plain(t.Max)}
		if t.Inf != 0 || t.NegInf != 0 || t.NaN != 0 {
			m["inf"], m["neg_inf"], m["nan"] = t.Inf, t.NegInf, t.NaN
		}
		return m
	}

	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Plain(rv.Index(i).Interface())
		}
		return out
	}
	return v
}
