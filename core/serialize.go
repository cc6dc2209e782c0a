package core

import (
	"reflect"
	"sort"

	"github.com/dosco/aggjin/expr"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/rs/xid"
)

// Dict is the serialized form of an aggregation. Kwargs holds
// [name, value] pairs in declaration order.
type Dict struct {
	Kind   string  `json:"kind" yaml:"kind" mapstructure:"kind"`
	Kwargs [][]any `json:"kwargs" yaml:"kwargs" mapstructure:"kwargs"`
	UUID   string  `json:"uuid,omitempty" yaml:"uuid,omitempty" mapstructure:"uuid"`
}

// Map returns d as a plain map
func (d Dict) Map() map[string]any {
	kw := make([]any, len(d.Kwargs))
	for i, p := range d.Kwargs {
		kw[i] = []any(p)
	}
	m := map[string]any{"kind": d.Kind, "kwargs": kw}
	if d.UUID != "" {
		m["uuid"] = d.UUID
	}
	return m
}

var (
	exprType  = reflect.TypeOf((*expr.Expr)(nil)).Elem()
	aggsType  = reflect.TypeOf([]Aggregation(nil))
	namedType = reflect.TypeOf(map[string]Aggregation(nil))
	uuidField = "UUID"
	aggKinds  = kindRegistry(
		Count{}, Distinct{}, Bounds{}, Min{}, Max{}, Mean{}, Std{}, Sum{},
		Quantiles{}, CountValues{}, HistogramValues{}, Schema{}, ListSchema{},
		Values{}, FacetAggregations{},
	)
)

func kindRegistry(aggs ...Aggregation) map[string]reflect.Type {
	m := make(map[string]reflect.Type, len(aggs))
	for _, a := range aggs {
		m[a.Kind()] = reflect.TypeOf(a)
	}
	return m
}

// Serialize returns the serialized form of agg
func Serialize(agg Aggregation) Dict {
	return serialize(agg, true)
}

func serialize(agg Aggregation, withUUID bool) Dict {
	agg = deref(agg)
	if agg == nil {
		return Dict{Kwargs: [][]any{}}
	}
	v := reflect.ValueOf(agg)
	t := v.Type()
	d := Dict{Kind: agg.Kind(), Kwargs: [][]any{}}

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Name == uuidField {
			if withUUID {
				d.UUID = v.Field(i).String()
			}
			continue
		}
		name := sf.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			continue
		}
		d.Kwargs = append(d.Kwargs, []any{name, encodeArg(v.Field(i).Interface(), withUUID)})
	}
	return d
}

func encodeArg(v any, withUUID bool) any {
	switch t := v.(type) {
	case expr.Expr:
		return expr.Encode(t)
	case Aggregation:
		return serialize(t, withUUID).Map()
	case []Aggregation:
		if t == nil {
			return nil
		}
		out := make([]any, len(t))
		for i, a := range t {
			out[i] = serialize(a, withUUID).Map()
		}
		return out
	case map[string]Aggregation:
		if t == nil {
			return nil
		}
		out := make(map[string]any, len(t))
		for k, a := range t {
			out[k] = serialize(a, withUUID).Map()
		}
		return out
	case UnwindMode:
		return int(t)
	}
	return v
}

// FromDict rebuilds an aggregation from its serialized form
func FromDict(d Dict) (Aggregation, error) {
	t, ok := aggKinds[d.Kind]
	if !ok {
		return nil, newConfigurationError(d.Kind, "", "unknown aggregation kind")
	}

	kw := make(map[string]any, len(d.Kwargs))
	for _, p := range d.Kwargs {
		if len(p) != 2 {
			return nil, newConfigurationError(d.Kind, "", "kwargs must be [name, value] pairs")
		}
		name, ok := p[0].(string)
		if !ok {
			return nil, newConfigurationError(d.Kind, "", "kwarg name %v is not a string", p[0])
		}
		kw[name] = p[1]
	}

	ptr := reflect.New(t)
	val := ptr.Elem()

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name := sf.Tag.Get("mapstructure")
		raw, ok := kw[name]
		if !ok {
			continue
		}

		var err error
		switch sf.Type {
		case exprType:
			var e expr.Expr
			if e, err = expr.Decode(raw); err == nil && e != nil {
				val.Field(i).Set(reflect.ValueOf(&e).Elem())
			}
		case aggsType:
			var aggs []Aggregation
			if aggs, err = decodeAggList(raw); err == nil {
				val.Field(i).Set(reflect.ValueOf(aggs))
			}
		case namedType:
			var named map[string]Aggregation
			if named, err = decodeAggMap(raw); err == nil {
				val.Field(i).Set(reflect.ValueOf(named))
			}
		default:
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "aggjin: %s: decoding %s", d.Kind, name)
		}
		delete(kw, name)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           ptr.Interface(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(kw); err != nil {
		return nil, errors.Wrapf(err, "aggjin: %s", d.Kind)
	}

	if f := val.FieldByName(uuidField); f.IsValid() {
		f.SetString(d.UUID)
	}
	return val.Interface().(Aggregation), nil
}

func decodeDict(v any) (Dict, error) {
	var d Dict
	switch t := v.(type) {
	case Dict:
		return t, nil
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, v := range t {
			ks, ok := k.(string)
			if !ok {
				return d, errors.Errorf("non-string key %v", k)
			}
			m[ks] = v
		}
		v = m
	}
	if err := mapstructure.Decode(v, &d); err != nil {
		return d, err
	}
	return d, nil
}

func decodeAgg(v any) (Aggregation, error) {
	if a, ok := v.(Aggregation); ok {
		return a, nil
	}
	d, err := decodeDict(v)
	if err != nil {
		return nil, err
	}
	return FromDict(d)
}

func decodeAggList(v any) ([]Aggregation, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, errors.Errorf("expected a list of aggregations, got %T", v)
	}
	out := make([]Aggregation, len(list))
	for i, item := range list {
		a, err := decodeAgg(item)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

func decodeAggMap(v any) (map[string]Aggregation, error) {
	if v == nil {
		return nil, nil
	}
	var m map[string]any
	if err := mapstructure.Decode(v, &m); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]Aggregation, len(m))
	for _, k := range keys {
		a, err := decodeAgg(m[k])
		if err != nil {
			return nil, errors.Wrapf(err, "aggregation %q", k)
		}
		out[k] = a
	}
	return out, nil
}

// Equal reports whether a and b are the same aggregation, ignoring UUIDs
func Equal(a, b Aggregation) bool {
	return sameDict(serialize(a, false), serialize(b, false))
}

// EqualWithUUID is Equal but also compares UUIDs
func EqualWithUUID(a, b Aggregation) bool {
	da, db := serialize(a, true), serialize(b, true)
	return da.UUID == db.UUID && sameDict(da, db)
}

func sameDict(a, b Dict) bool {
	if a.Kind != b.Kind {
		return false
	}
	ha, err := hashstructure.Hash(a, hashstructure.FormatV2, nil)
	if err != nil {
		return false
	}
	hb, err := hashstructure.Hash(b, hashstructure.FormatV2, nil)
	if err != nil {
		return false
	}
	return ha == hb
}

// WithUUID returns a copy of agg carrying a new unique id
func WithUUID(agg Aggregation) Aggregation {
	if agg = deref(agg); agg == nil {
		return nil
	}
	v := reflect.ValueOf(agg)
	cp := reflect.New(v.Type()).Elem()
	cp.Set(v)
	if f := cp.FieldByName(uuidField); f.IsValid() {
		f.SetString(xid.New().String())
	}
	return cp.Interface().(Aggregation)
}

// UUIDOf returns the unique id of agg, if any
func UUIDOf(agg Aggregation) string {
	agg = deref(agg)
	if agg == nil {
		return ""
	}
	if f := reflect.ValueOf(agg).FieldByName(uuidField); f.IsValid() {
		return f.String()
	}
	return ""
}
