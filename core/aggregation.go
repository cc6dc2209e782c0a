package core

import (
	"context"
	"fmt"
	"reflect"

	"github.com/dosco/aggjin/core/internal/stage"
	"github.com/dosco/aggjin/expr"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// Aggregation is implemented by every aggregation kind of this package:
// Count, Distinct, Bounds, Min, Max, Mean, Std, Sum, Quantiles, CountValues,
// HistogramValues, Schema, ListSchema, Values and FacetAggregations.
//
// Aggregations are immutable values. Compiling one returns a Compiled
// record that carries everything needed to parse the results.
type Aggregation interface {
	Kind() string
	FieldName() string
	isAggregation()
}

// Compiled is an aggregation compiled against a collection
type Compiled struct {
	Kind        string
	Field       string
	NeedsFrames bool
	BigResult   bool

	prefix    stage.Pipeline
	stages    stage.Pipeline
	hasFacet  bool
	cacheable bool
	parse     func(docs []bson.M) (any, error)
	def       func() any
}

// Pipeline returns the pipeline to run on the collection
func (cp *Compiled) Pipeline() bson.A {
	return cp.prefix.Append(cp.stages...).Render()
}

func (cp *Compiled) String() string {
	return cp.prefix.Append(cp.stages...).String()
}

// Parse converts the documents returned by the pipeline into the result of
// the aggregation. No documents yield the default result.
func (cp *Compiled) Parse(docs []bson.M) (any, error) {
	if len(docs) == 0 && !cp.BigResult {
		return cp.def(), nil
	}
	return cp.parse(docs)
}

// Default returns the result of the aggregation on an empty collection
func (cp *Compiled) Default() any {
	return cp.def()
}

type boundsFunc func(ctx context.Context, coll *Collection, b Bounds) (BoundsResult, error)

// compiler holds the state of a single compile call
type compiler struct {
	ctx    context.Context
	coll   *Collection
	log    *zap.Logger
	bounds boundsFunc
}

func (c *compiler) compile(agg Aggregation, ctxPath string) (*Compiled, error) {
	agg, err := concrete(agg)
	if err != nil {
		return nil, err
	}
	var cp *Compiled

	switch a := agg.(type) {
	case Count:
		cp, err = c.compileCount(a, ctxPath)
	case Distinct:
		cp, err = c.compileDistinct(a, ctxPath)
	case Bounds:
		cp, err = c.compileBounds(a, ctxPath)
	case Min:
		cp, err = c.compileGroupOp(a.Kind(), a.Field, a.Expr, a.Safe, ctxPath, "$min", true, nil)
	case Max:
		cp, err = c.compileGroupOp(a.Kind(), a.Field, a.Expr, a.Safe, ctxPath, "$max", true, nil)
	case Mean:
		cp, err = c.compileGroupOp(a.Kind(), a.Field, a.Expr, a.Safe, ctxPath, "$avg", false, float64(0))
	case Std:
		op := "$stdDevPop"
		if a.Sample {
			op = "$stdDevSamp"
		}
		cp, err = c.compileGroupOp(a.Kind(), a.Field, a.Expr, a.Safe, ctxPath, op, false, float64(0))
	case Sum:
		cp, err = c.compileGroupOp(a.Kind(), a.Field, a.Expr, a.Safe, ctxPath, "$sum", false, int64(0))
	case Quantiles:
		cp, err = c.compileQuantiles(a, ctxPath)
	case CountValues:
		cp, err = c.compileCountValues(a, ctxPath)
	case HistogramValues:
		cp, err = c.compileHistogram(a, ctxPath)
	case Schema:
		cp, err = c.compileSchema(a, ctxPath)
	case ListSchema:
		cp, err = c.compileListSchema(a, ctxPath)
	case Values:
		cp, err = c.compileValues(a, ctxPath)
	case FacetAggregations:
		cp, err = c.compileFacet(a, ctxPath)
	default:
		return nil, newConfigurationError(fmt.Sprintf("%T", agg), "", "unsupported aggregation")
	}

	if err != nil {
		return nil, err
	}
	cp.Kind = agg.Kind()
	cp.Field = agg.FieldName()
	if ctxPath == "" && cp.NeedsFrames {
		cp.prefix = stage.Pipeline{framesLookup(c.coll)}
	}
	return cp, nil
}

// resolve runs parseFieldAndExpr with the common options of an aggregation
func (c *compiler) resolve(kind, field string, e expr.Expr, safe bool, unwind UnwindMode, ctxPath string) (*resolvedPath, error) {
	return c.parseFieldAndExpr(kind, field, e, parseOpts{
		safe:    safe,
		unwind:  unwind,
		context: ctxPath,
	})
}

func newCompiled(rp *resolvedPath, def func() any) *Compiled {
	return &Compiled{
		stages:      rp.stages,
		NeedsFrames: rp.needsFrames,
		cacheable:   true,
		def:         def,
	}
}

// notNull keeps documents whose value at path is set
func notNull(path string) stage.Match {
	return stage.MatchExpr(expr.Gt(expr.F(path), expr.Lit(nil)).Compile(""))
}

func ref(path string) string {
	return "$" + path
}

// firstDoc returns the value of key in the single document produced by a
// grouping pipeline
func firstDoc(docs []bson.M, key string) any {
	if len(docs) == 0 {
		return nil
	}
	v, _ := docField(docs[0], key)
	return v
}

// deref returns the value form of agg, following a pointer to an
// aggregation kind. It returns nil for nil and nil pointers.
func deref(agg Aggregation) Aggregation {
	if agg == nil {
		return nil
	}
	v := reflect.ValueOf(agg)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	a, _ := v.Interface().(Aggregation)
	return a
}

// concrete is deref reporting unusable aggregations as configuration errors
func concrete(agg Aggregation) (Aggregation, error) {
	if agg == nil {
		return nil, newConfigurationError("", "", "aggregation is required")
	}
	a := deref(agg)
	if a == nil {
		return nil, newConfigurationError(fmt.Sprintf("%T", agg), "", "unsupported aggregation")
	}
	return a, nil
}

// withField returns a copy of agg with its Field replaced
func withField(agg Aggregation, field string) Aggregation {
	v := reflect.ValueOf(deref(agg))
	cp := reflect.New(v.Type()).Elem()
	cp.Set(v)
	cp.FieldByName("Field").SetString(field)
	return cp.Interface().(Aggregation)
}
