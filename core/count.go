package core

import (
	"github.com/dosco/aggjin/core/internal/stage"
	"github.com/dosco/aggjin/expr"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Count counts the documents of a collection, or the non-null values of a
// field or expression. List fields are unwound so their elements are
// counted.
type Count struct {
	Field string    `mapstructure:"field"`
	Expr  expr.Expr `mapstructure:"expr"`
	Safe  bool      `mapstructure:"safe"`
	UUID  string    `hash:"ignore"`
}

func (Count) Kind() string        { return "Count" }
func (a Count) FieldName() string { return a.Field }
func (Count) isAggregation()      {}

// Distinct returns the sorted distinct non-null values of a field
type Distinct struct {
	Field string    `mapstructure:"field"`
	Expr  expr.Expr `mapstructure:"expr"`
	Safe  bool      `mapstructure:"safe"`
	UUID  string    `hash:"ignore"`
}

func (Distinct) Kind() string        { return "Distinct" }
func (a Distinct) FieldName() string { return a.Field }
func (Distinct) isAggregation()      {}

func (c *compiler) compileCount(a Count, ctxPath string) (*Compiled, error) {
	def := func() any { return int64(0) }
	parse := func(docs []bson.M) (any, error) {
		return toInt64(firstDoc(docs, "count")), nil
	}

	if a.Field == "" && a.Expr == nil {
		return &Compiled{
			stages:    stage.Pipeline{stage.Count{Field: "count"}},
			cacheable: true,
			parse:     parse,
			def:       def,
		}, nil
	}

	rp, err := c.resolve(a.Kind(), a.Field, a.Expr, a.Safe, UnwindAll, ctxPath)
	if err != nil {
		return nil, err
	}

	cp := newCompiled(rp, def)
	cp.stages = rp.stages.Append(notNull(rp.path), stage.Count{Field: "count"})
	cp.parse = parse
	return cp, nil
}

func (c *compiler) compileDistinct(a Distinct, ctxPath string) (*Compiled, error) {
	rp, err := c.resolve(a.Kind(), a.Field, a.Expr, a.Safe, UnwindAll, ctxPath)
	if err != nil {
		return nil, err
	}

	var value any = ref(rp.path)
	if rp.idToStr {
		value = expr.ToString(expr.F(rp.path)).Compile("")
	}

	cp := newCompiled(rp, func() any { return []any{} })
	cp.stages = rp.stages.Append(
		notNull(rp.path),
		stage.Group{Fields: []stage.Accumulator{{Name: "values", Op: "$addToSet", Arg: value}}},
		stage.Unwind{Path: "values"},
		stage.Sort{Keys: []stage.SortKey{{Field: "values", Order: 1}}},
		stage.Group{Fields: []stage.Accumulator{{Name: "values", Op: "$push", Arg: "$values"}}},
	)

	ct := newCoercer(rp.fieldType, false)
	cp.parse = func(docs []bson.M) (any, error) {
		vals := asList(firstDoc(docs, "values"))
		out := make([]any, len(vals))
		for i, v := range vals {
			out[i] = coerceWith(ct, v)
		}
		return out, nil
	}
	return cp, nil
}
