package core

import (
	"strings"

	"github.com/dosco/aggjin/core/internal/stage"
	"github.com/dosco/aggjin/expr"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Values extracts the values of a field from every document. Lists that are
// not unwound are kept, so the result mirrors the nesting of the field.
//
// MissingValue replaces null and missing values. Raw skips type coercion.
// BigResult returns one document per input document instead of collecting
// the values in a single document, which avoids document size limits.
type Values struct {
	Field        string     `mapstructure:"field"`
	Expr         expr.Expr  `mapstructure:"expr"`
	Safe         bool       `mapstructure:"safe"`
	MissingValue any        `mapstructure:"missing_value"`
	Unwind       UnwindMode `mapstructure:"unwind"`
	Raw          bool       `mapstructure:"raw"`
	BigResult    bool       `mapstructure:"big_result"`
	AllowMissing bool       `mapstructure:"allow_missing"`
	UUID         string     `hash:"ignore"`
}

func (Values) Kind() string        { return "Values" }
func (a Values) FieldName() string { return a.Field }
func (Values) isAggregation()      {}

func (c *compiler) compileValues(a Values, ctxPath string) (*Compiled, error) {
	rp, err := c.parseFieldAndExpr(a.Kind(), a.Field, a.Expr, parseOpts{
		safe:         a.Safe,
		unwind:       a.Unwind,
		context:      ctxPath,
		allowMissing: a.AllowMissing,
	})
	if err != nil {
		return nil, err
	}

	value := valuesExpr(rp.path, rp.otherListFields, rp.idToStr, a.MissingValue).Compile("")
	big := a.BigResult && ctxPath == ""

	cp := newCompiled(rp, func() any { return []any{} })
	cp.BigResult = big

	var ct *coercer
	if !a.Raw {
		ct = newCoercer(rp.fieldType, false)
	}
	conv := func(v any) any {
		if a.Raw {
			return v
		}
		return coerceWith(ct, v)
	}

	if big {
		cp.stages = rp.stages.Append(stage.Project{Fields: bson.D{{Key: "values", Value: value}}})
		cp.parse = func(docs []bson.M) (any, error) {
			out := make([]any, len(docs))
			for i, d := range docs {
				out[i] = conv(d["values"])
			}
			return out, nil
		}
		return cp, nil
	}

	cp.stages = rp.stages.Append(stage.Group{
		Fields: []stage.Accumulator{{Name: "values", Op: "$push", Arg: value}},
	})
	cp.parse = func(docs []bson.M) (any, error) {
		vals := asList(firstDoc(docs, "values"))
		out := make([]any, len(vals))
		for i, v := range vals {
			out[i] = conv(v)
		}
		return out, nil
	}
	return cp, nil
}

// valuesExpr extracts the value at path, mapping over each list in lists so
// the result keeps one level of nesting per list
func valuesExpr(path string, lists []string, idToStr bool, missing any) expr.Expr {
	var leaf expr.Expr = expr.F("")
	if idToStr {
		leaf = expr.ToString(leaf)
	}
	leaf = expr.IfNull(leaf, expr.Lit(missing))

	levels := append(append([]string{}, lists...), path)
	e := leaf
	for i := len(levels) - 1; i >= 1; i-- {
		inner := strings.TrimPrefix(strings.TrimPrefix(levels[i], levels[i-1]), ".")
		e = expr.MapOf(expr.F(""), expr.ApplyTo(expr.F(inner), e))
	}
	return expr.ApplyTo(expr.F(levels[0]), e)
}
