package core

import (
	"math"

	"github.com/dosco/aggjin/core/internal/stage"
	"github.com/dosco/aggjin/expr"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Bounds computes the minimum and maximum of a field. With CountNonfinites
// the bounds only cover finite values and the infinite and NaN values are
// counted separately.
type Bounds struct {
	Field           string    `mapstructure:"field"`
	Expr            expr.Expr `mapstructure:"expr"`
	Safe            bool      `mapstructure:"safe"`
	CountNonfinites bool      `mapstructure:"count_nonfinites"`
	UUID            string    `hash:"ignore"`
}

func (Bounds) Kind() string        { return "Bounds" }
func (a Bounds) FieldName() string { return a.Field }
func (Bounds) isAggregation()      {}

// BoundsResult is the result of Bounds. Min and Max are nil when there are
// no values.
type BoundsResult struct {
	Min    any
	Max    any
	Inf    int64
	NegInf int64
	NaN    int64
}

type Min struct {
	Field string    `mapstructure:"field"`
	Expr  expr.Expr `mapstructure:"expr"`
	Safe  bool      `mapstructure:"safe"`
	UUID  string    `hash:"ignore"`
}

func (Min) Kind() string        { return "Min" }
func (a Min) FieldName() string { return a.Field }
func (Min) isAggregation()      {}

type Max struct {
	Field string    `mapstructure:"field"`
	Expr  expr.Expr `mapstructure:"expr"`
	Safe  bool      `mapstructure:"safe"`
	UUID  string    `hash:"ignore"`
}

func (Max) Kind() string        { return "Max" }
func (a Max) FieldName() string { return a.Field }
func (Max) isAggregation()      {}

type Mean struct {
	Field string    `mapstructure:"field"`
	Expr  expr.Expr `mapstructure:"expr"`
	Safe  bool      `mapstructure:"safe"`
	UUID  string    `hash:"ignore"`
}

func (Mean) Kind() string        { return "Mean" }
func (a Mean) FieldName() string { return a.Field }
func (Mean) isAggregation()      {}

// Std computes the population standard deviation, or the sample standard
// deviation when Sample is set.
type Std struct {
	Field  string    `mapstructure:"field"`
	Expr   expr.Expr `mapstructure:"expr"`
	Safe   bool      `mapstructure:"safe"`
	Sample bool      `mapstructure:"sample"`
	UUID   string    `hash:"ignore"`
}

func (Std) Kind() string        { return "Std" }
func (a Std) FieldName() string { return a.Field }
func (Std) isAggregation()      {}

type Sum struct {
	Field string    `mapstructure:"field"`
	Expr  expr.Expr `mapstructure:"expr"`
	Safe  bool      `mapstructure:"safe"`
	UUID  string    `hash:"ignore"`
}

func (Sum) Kind() string        { return "Sum" }
func (a Sum) FieldName() string { return a.Field }
func (Sum) isAggregation()      {}

func (c *compiler) compileBounds(a Bounds, ctxPath string) (*Compiled, error) {
	rp, err := c.resolve(a.Kind(), a.Field, a.Expr, a.Safe && !a.CountNonfinites, UnwindAll, ctxPath)
	if err != nil {
		return nil, err
	}

	v := expr.F(rp.path)
	var minArg, maxArg any = ref(rp.path), ref(rp.path)
	acc := []stage.Accumulator{}

	if a.CountNonfinites {
		finite := expr.Cond(
			expr.And(expr.Gt(v, expr.Lit(math.Inf(-1))), expr.Lt(v, expr.Lit(math.Inf(1)))),
			v,
			expr.Lit(nil),
		).Compile("")
		minArg, maxArg = finite, finite
	}
	acc = append(acc,
		stage.Accumulator{Name: "min", Op: "$min", Arg: minArg},
		stage.Accumulator{Name: "max", Op: "$max", Arg: maxArg})

	if a.CountNonfinites {
		acc = append(acc,
			countIf("inf", expr.Eq(v, expr.Lit(math.Inf(1)))),
			countIf("neg_inf", expr.Eq(v, expr.Lit(math.Inf(-1)))),
			countIf("nan", expr.Eq(v, expr.Lit(math.NaN()))))
	}

	cp := newCompiled(rp, func() any { return BoundsResult{} })
	cp.stages = rp.stages.Append(stage.Group{Fields: acc})

	ct := newCoercer(rp.fieldType, rp.idToStr)
	cp.parse = func(docs []bson.M) (any, error) {
		res := BoundsResult{
			Min: coerceWith(ct, firstDoc(docs, "min")),
			Max: coerceWith(ct, firstDoc(docs, "max")),
		}
		if a.CountNonfinites {
			res.Inf = toInt64(firstDoc(docs, "inf"))
			res.NegInf = toInt64(firstDoc(docs, "neg_inf"))
			res.NaN = toInt64(firstDoc(docs, "nan"))
		}
		return res, nil
	}
	return cp, nil
}

func countIf(name string, cond expr.Expr) stage.Accumulator {
	return stage.Accumulator{
		Name: name,
		Op:   "$sum",
		Arg:  expr.Cond(cond, expr.Lit(1), expr.Lit(0)).Compile(""),
	}
}

// compileGroupOp compiles the aggregations that reduce a field with a single
// group accumulator
func (c *compiler) compileGroupOp(kind, field string, e expr.Expr, safe bool, ctxPath, op string, coerce bool, def any) (*Compiled, error) {
	rp, err := c.resolve(kind, field, e, safe, UnwindAll, ctxPath)
	if err != nil {
		return nil, err
	}

	cp := newCompiled(rp, func() any { return def })
	cp.stages = rp.stages.Append(stage.Group{
		Fields: []stage.Accumulator{{Name: "value", Op: op, Arg: ref(rp.path)}},
	})

	var ct *coercer
	if coerce {
		ct = newCoercer(rp.fieldType, rp.idToStr)
	}
	cp.parse = func(docs []bson.M) (any, error) {
		return coerceWith(ct, firstDoc(docs, "value")), nil
	}
	return cp, nil
}
