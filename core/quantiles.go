package core

import (
	"github.com/dosco/aggjin/core/internal/stage"
	"github.com/dosco/aggjin/expr"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Quantiles computes the quantiles of the numeric values of a field using
// the nearest-rank method: the q-th quantile of n sorted values is the
// value at index ceil(q*n)-1, clamped to 0. With Scalar set exactly one
// quantile must be given and the result is a single value.
type Quantiles struct {
	Field     string    `mapstructure:"field"`
	Expr      expr.Expr `mapstructure:"expr"`
	Safe      bool      `mapstructure:"safe"`
	Quantiles []float64 `mapstructure:"quantiles" validate:"min=1,dive,gte=0,lte=1"`
	Scalar    bool      `mapstructure:"scalar"`
	UUID      string    `hash:"ignore"`
}

func (Quantiles) Kind() string        { return "Quantiles" }
func (a Quantiles) FieldName() string { return a.Field }
func (Quantiles) isAggregation()      {}

func (a Quantiles) validate() error {
	if err := validateStruct(a.Kind(), a.Field, a); err != nil {
		return err
	}
	if a.Scalar && len(a.Quantiles) != 1 {
		return newConfigurationError(a.Kind(), a.Field, "a scalar result needs exactly one quantile, got %d", len(a.Quantiles))
	}
	return nil
}

func (c *compiler) compileQuantiles(a Quantiles, ctxPath string) (*Compiled, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}

	rp, err := c.resolve(a.Kind(), a.Field, a.Expr, a.Safe, UnwindAll, ctxPath)
	if err != nil {
		return nil, err
	}

	values := expr.F("values")
	picks := make(bson.A, len(a.Quantiles))
	for i, q := range a.Quantiles {
		idx := expr.Max(
			expr.Lit(0),
			expr.Subtract(expr.Ceil(expr.Multiply(expr.Lit(q), expr.Size(values))), expr.Lit(1)),
		)
		picks[i] = expr.ArrayElemAt(values, expr.ToInt(idx)).Compile("")
	}

	n := len(a.Quantiles)
	cp := newCompiled(rp, func() any {
		if a.Scalar {
			return nil
		}
		return make([]any, n)
	})
	cp.stages = rp.stages.Append(
		stage.MatchExpr(expr.IsNumber(expr.F(rp.path)).Compile("")),
		stage.Sort{Keys: []stage.SortKey{{Field: rp.path, Order: 1}}},
		stage.Group{Fields: []stage.Accumulator{{Name: "values", Op: "$push", Arg: ref(rp.path)}}},
		stage.Project{Fields: bson.D{{Key: "_id", Value: false}, {Key: "quantiles", Value: picks}}},
	)

	cp.parse = func(docs []bson.M) (any, error) {
		qs := asList(firstDoc(docs, "quantiles"))
		out := make([]any, n)
		for i := range out {
			if i < len(qs) {
				out[i] = normalize(qs[i])
			}
		}
		if a.Scalar {
			return out[0], nil
		}
		return out, nil
	}
	return cp, nil
}
