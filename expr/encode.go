package expr

import (
	"fmt"
)

// Encode turns e into plain maps and slices so it can be serialized with
// any generic encoder. Decode reverses it.
func Encode(e Expr) map[string]any {
	switch v := e.(type) {
	case nil:
		return nil
	case Field:
		return map[string]any{"kind": "field", "path": v.Path}
	case Literal:
		return map[string]any{"kind": "literal", "value": v.Value}
	case Var:
		return map[string]any{"kind": "var", "name": v.Name}
	case Call:
		return map[string]any{"kind": "call", "op": v.Op, "args": encodeList(v.Args)}
	case Array:
		return map[string]any{"kind": "array", "items": encodeList(v.Items)}
	case Object:
		keys := make([]any, len(v.Keys))
		for i, k := range v.Keys {
			keys[i] = k
		}
		return map[string]any{"kind": "object", "keys": keys, "values": encodeList(v.Values)}
	case Map:
		return map[string]any{"kind": "map", "input": Encode(v.Input), "body": Encode(v.Body)}
	case Filter:
		return map[string]any{"kind": "filter", "input": Encode(v.Input), "cond": Encode(v.Cond)}
	case Reduce:
		return map[string]any{"kind": "reduce", "input": Encode(v.Input), "init": Encode(v.Init), "body": Encode(v.Body)}
	case Apply:
		return map[string]any{"kind": "apply", "input": Encode(v.Input), "body": Encode(v.Body)}
	case Frozen:
		return map[string]any{"kind": "frozen", "expr": Encode(v.X)}
	}
	return nil
}

func encodeList(list []Expr) []any {
	out := make([]any, len(list))
	for i, e := range list {
		out[i] = Encode(e)
	}
	return out
}

// Decode rebuilds an expression produced by Encode. It accepts the map
// shapes produced by JSON and YAML decoders.
func Decode(v any) (Expr, error) {
	if v == nil {
		return nil, nil
	}
	m, err := toMap(v)
	if err != nil {
		return nil, err
	}

	kind, _ := m["kind"].(string)
	switch kind {
	case "field":
		p, _ := m["path"].(string)
		return Field{Path: p}, nil

	case "literal":
		return Literal{Value: m["value"]}, nil

	case "var":
		n, _ := m["name"].(string)
		return Var{Name: n}, nil

	case "call":
		op, _ := m["op"].(string)
		args, err := decodeList(m["args"])
		if err != nil {
			return nil, err
		}
		return Call{Op: op, Args: args}, nil

	case "array":
		items, err := decodeList(m["items"])
		if err != nil {
			return nil, err
		}
		return Array{Items: items}, nil

	case "object":
		rawKeys, _ := m["keys"].([]any)
		vals, err := decodeList(m["values"])
		if err != nil {
			return nil, err
		}
		if len(rawKeys) != len(vals) {
			return nil, fmt.Errorf("expr: object has %d keys and %d values", len(rawKeys), len(vals))
		}
		keys := make([]string, len(rawKeys))
		for i, k := range rawKeys {
			keys[i] = fmt.Sprint(k)
		}
		return Object{Keys: keys, Values: vals}, nil

	case "map", "filter", "reduce", "apply":
		in, err := Decode(m["input"])
		if err != nil {
			return nil, err
		}
		bodyKey := "body"
		if kind == "filter" {
			bodyKey = "cond"
		}
		body, err := Decode(m[bodyKey])
		if err != nil {
			return nil, err
		}
		switch kind {
		case "map":
			return Map{Input: in, Body: body}, nil
		case "filter":
			return Filter{Input: in, Cond: body}, nil
		case "apply":
			return Apply{Input: in, Body: body}, nil
		}
		init, err := Decode(m["init"])
		if err != nil {
			return nil, err
		}
		return Reduce{Input: in, Init: init, Body: body}, nil

	case "frozen":
		x, err := Decode(m["expr"])
		if err != nil {
			return nil, err
		}
		return Frozen{X: x}, nil
	}
	return nil, fmt.Errorf("expr: unknown kind %q", kind)
}

func decodeList(v any) ([]Expr, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expr: expected list, got %T", v)
	}
	out := make([]Expr, len(list))
	for i, item := range list {
		e, err := Decode(item)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func toMap(v any) (map[string]any, error) {
	switch m := v.(type) {
	case map[string]any:
		return m, nil
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, nil
	}
	return nil, fmt.Errorf("expr: expected map, got %T", v)
}
