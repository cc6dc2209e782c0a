package core

import (
	"math"
	"time"

	"github.com/dosco/aggjin/core/internal/stage"
	"github.com/dosco/aggjin/expr"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const defaultBins = 10

// HistogramValues computes a histogram of a numeric or date field.
//
// Edges gives explicit bin edges. Otherwise Bins equal-width bins are laid
// over Range, or over the bounds of the field when no range is given. Bins
// are half-open [lower, upper) and values outside the edges are counted in
// Other. With Auto set the store picks Bins buckets of roughly equal size
// and Range is ignored.
type HistogramValues struct {
	Field string    `mapstructure:"field"`
	Expr  expr.Expr `mapstructure:"expr"`
	Safe  bool      `mapstructure:"safe"`
	Bins  int       `mapstructure:"bins" validate:"gte=0"`
	Edges []any     `mapstructure:"edges" validate:"omitempty,min=2"`
	Range []any     `mapstructure:"range" validate:"omitempty,len=2"`
	Auto  bool      `mapstructure:"auto"`
	UUID  string    `hash:"ignore"`
}

func (HistogramValues) Kind() string        { return "HistogramValues" }
func (a HistogramValues) FieldName() string { return a.Field }
func (HistogramValues) isAggregation()      {}

type HistogramResult struct {
	Counts []int64
	Edges  []any
	Other  int64
}

func (a HistogramValues) validate() error {
	if err := validateStruct(a.Kind(), a.Field, a); err != nil {
		return err
	}
	if len(a.Range) == 2 {
		lo, ok1 := toFloat(a.Range[0])
		hi, ok2 := toFloat(a.Range[1])
		if ok1 && ok2 && !(lo < hi) {
			return newConfigurationError(a.Kind(), a.Field, "range lower bound must be below the upper bound")
		}
	}
	for _, e := range append(append([]any{}, a.Range...), a.Edges...) {
		if _, ok := toFloat(e); !ok {
			return newConfigurationError(a.Kind(), a.Field, "edge %v is not a number or a time", e)
		}
	}
	return nil
}

func (a HistogramValues) numBins() int {
	if a.Bins <= 0 {
		return defaultBins
	}
	return a.Bins
}

func emptyHistogram() any {
	return HistogramResult{Counts: []int64{}, Edges: []any{}}
}

func (c *compiler) compileHistogram(a HistogramValues, ctxPath string) (*Compiled, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}

	rp, err := c.resolve(a.Kind(), a.Field, a.Expr, a.Safe, UnwindAll, ctxPath)
	if err != nil {
		return nil, err
	}

	isDate := false
	if l := rp.fieldType.leaf(); l != nil {
		isDate = l.Kind == KindDate || l.Kind == KindDateTime
	}

	count := []stage.Accumulator{{Name: "count", Op: "$sum", Arg: 1}}
	bins := stage.Group{Fields: []stage.Accumulator{{
		Name: "bins",
		Op:   "$push",
		Arg:  bson.D{{Key: "bin", Value: "$_id"}, {Key: "count", Value: "$count"}},
	}}}
	ct := newCoercer(rp.fieldType, false)
	cp := newCompiled(rp, emptyHistogram)

	if a.Auto {
		cp.stages = rp.stages.Append(
			notNull(rp.path),
			stage.BucketAuto{GroupBy: ref(rp.path), Buckets: a.numBins(), Output: count},
			bins,
		)
		cp.parse = func(docs []bson.M) (any, error) {
			res := HistogramResult{Counts: []int64{}, Edges: []any{}}
			var last any
			for _, d := range asDocs(firstDoc(docs, "bins")) {
				lo, _ := docField(d["bin"], "min")
				last, _ = docField(d["bin"], "max")
				res.Counts = append(res.Counts, toInt64(d["count"]))
				res.Edges = append(res.Edges, coerceWith(ct, lo))
			}
			if len(res.Counts) != 0 {
				res.Edges = append(res.Edges, coerceWith(ct, last))
			}
			return res, nil
		}
		return cp, nil
	}

	edges, derived, err := c.histogramEdges(a, isDate)
	if err != nil {
		return nil, err
	}
	cp.cacheable = !derived

	pos := make([]float64, len(edges))
	for i, e := range edges {
		pos[i], _ = toFloat(e)
	}

	cp.stages = rp.stages.Append(
		notNull(rp.path),
		stage.Bucket{GroupBy: ref(rp.path), Boundaries: edges, Default: "other", Output: count},
		bins,
	)
	cp.parse = func(docs []bson.M) (any, error) {
		res := HistogramResult{Counts: make([]int64, len(edges)-1), Edges: outputEdges(edges, ct)}
		for _, d := range asDocs(firstDoc(docs, "bins")) {
			if s, ok := d["bin"].(string); ok && s == "other" {
				res.Other = toInt64(d["count"])
				continue
			}
			lo, ok := toFloat(d["bin"])
			if !ok {
				continue
			}
			res.Counts[nearestEdge(pos[:len(pos)-1], lo)] = toInt64(d["count"])
		}
		return res, nil
	}
	return cp, nil
}

// histogramEdges returns the bucket boundaries and whether they were
// derived from the data
func (c *compiler) histogramEdges(a HistogramValues, isDate bool) ([]any, bool, error) {
	if len(a.Edges) != 0 {
		edges := make([]any, len(a.Edges))
		for i, e := range a.Edges {
			edges[i] = boundary(e, isDate)
		}
		return edges, false, nil
	}

	var lo, hi, eps float64
	derived := false

	if len(a.Range) == 2 {
		lo, _ = toFloat(a.Range[0])
		hi, _ = toFloat(a.Range[1])
	} else {
		if c.bounds == nil {
			return nil, false, newConfigurationError(a.Kind(), a.Field, "edges or a range are required when compiling without an executor")
		}
		b, err := c.bounds(c.ctx, c.coll, Bounds{Field: a.Field, Expr: a.Expr, Safe: true})
		if err != nil {
			return nil, false, err
		}
		lo, hi = -1, -1
		if b.Min != nil && b.Max != nil {
			fmin, ok1 := toFloat(b.Min)
			fmax, ok2 := toFloat(b.Max)
			if ok1 && ok2 {
				lo, hi = fmin, fmax
			}
		}
		// the upper edge is exclusive, so it must lie past the maximum
		n := float64(a.numBins())
		if isDate {
			eps = math.Max(1, n-(hi-lo))
		} else {
			eps = math.Max(1e-6, math.Abs(hi)*1e-9)
		}
		derived = true
	}

	points := linspace(lo, hi+eps, a.numBins()+1)
	edges := make([]any, 0, len(points))
	last := math.Inf(-1)
	for _, p := range points {
		e := boundary(p, isDate)
		// rounding to whole milliseconds or float precision can merge edges
		if f, _ := toFloat(e); f > last {
			edges = append(edges, e)
			last = f
		}
	}
	if len(edges) == 1 {
		edges = append(edges, boundary(last+1, isDate))
	}
	return edges, derived, nil
}

// boundary converts an edge to the type stored in the field
func boundary(v any, isDate bool) any {
	switch t := v.(type) {
	case time.Time:
		return bson.NewDateTimeFromTime(t)
	case bson.DateTime:
		return t
	}
	f, _ := toFloat(v)
	if isDate {
		return bson.DateTime(int64(math.Round(f)))
	}
	return f
}

func outputEdges(edges []any, ct *coercer) []any {
	out := make([]any, len(edges))
	for i, e := range edges {
		out[i] = coerceWith(ct, e)
	}
	return out
}

func linspace(lo, hi float64, n int) []float64 {
	if n == 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

func nearestEdge(edges []float64, v float64) int {
	best := 0
	for i, e := range edges {
		if math.Abs(e-v) < math.Abs(edges[best]-v) {
			best = i
		}
	}
	return best
}
