package core

import (
	"regexp"

	"github.com/dosco/aggjin/core/internal/stage"
	"github.com/dosco/aggjin/expr"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	SortByCount = "count"
	SortByValue = "value"
)

// CountValues counts the occurrences of each value of a field.
//
// When First is set only the top First values are returned, ordered by
// SortBy (count or value, descending unless Asc). Search keeps values
// containing a substring, Exclude drops values and Include lists values
// that are always returned ahead of the others.
type CountValues struct {
	Field   string    `mapstructure:"field"`
	Expr    expr.Expr `mapstructure:"expr"`
	Safe    bool      `mapstructure:"safe"`
	First   int       `mapstructure:"first"`
	SortBy  string    `mapstructure:"sort_by"`
	Asc     bool      `mapstructure:"asc"`
	Include []any     `mapstructure:"include"`
	Exclude []any     `mapstructure:"exclude"`
	Search  string    `mapstructure:"search"`
	UUID    string    `hash:"ignore"`
}

func (CountValues) Kind() string        { return "CountValues" }
func (a CountValues) FieldName() string { return a.Field }
func (CountValues) isAggregation()      {}

type ValueCount struct {
	Value any
	Count int64
}

// CountValuesResult is returned by CountValues when First is set. Count is
// the number of distinct values that passed the filters.
type CountValuesResult struct {
	Count  int64
	Values []ValueCount
}

func (c *compiler) compileCountValues(a CountValues, ctxPath string) (*Compiled, error) {
	switch a.SortBy {
	case "", SortByCount, SortByValue:
	default:
		return nil, newConfigurationError(a.Kind(), a.Field, "unsupported sort_by %q", a.SortBy)
	}

	rp, err := c.resolve(a.Kind(), a.Field, a.Expr, a.Safe, UnwindAll, ctxPath)
	if err != nil {
		return nil, err
	}

	var value any = ref(rp.path)
	if rp.idToStr {
		value = expr.ToString(expr.F(rp.path)).Compile("")
	}

	pair := bson.D{{Key: "k", Value: "$_id"}, {Key: "count", Value: "$count"}}
	st := rp.stages.Append(stage.Group{
		ID:     value,
		Fields: []stage.Accumulator{{Name: "count", Op: "$sum", Arg: 1}},
	})
	ct := newCoercer(rp.fieldType, false)

	if a.First <= 0 {
		cp := newCompiled(rp, func() any { return map[any]int64{} })
		cp.stages = st.Append(stage.Group{
			Fields: []stage.Accumulator{{Name: "result", Op: "$push", Arg: pair}},
		})
		cp.parse = func(docs []bson.M) (any, error) {
			out := map[any]int64{}
			for _, d := range asDocs(firstDoc(docs, "result")) {
				out[hashableKey(coerceWith(ct, d["k"]))] = toInt64(d["count"])
			}
			return out, nil
		}
		return cp, nil
	}

	if a.Search != "" {
		st = st.Append(stage.Match{Query: bson.D{{Key: "_id", Value: bson.D{
			{Key: "$regex", Value: regexp.QuoteMeta(a.Search)},
		}}}})
	}
	if len(a.Exclude) != 0 {
		st = st.Append(stage.Match{Query: bson.D{{Key: "_id", Value: bson.D{
			{Key: "$nin", Value: bson.A(a.Exclude)},
		}}}})
	}

	var keys []stage.SortKey
	if len(a.Include) != 0 {
		st = st.Append(stage.AddFields{Fields: bson.D{{
			Key:   "included",
			Value: bson.D{{Key: "$in", Value: bson.A{"$_id", bson.A(a.Include)}}},
		}}})
		keys = append(keys, stage.SortKey{Field: "included", Order: -1})
	}

	order := -1
	if a.Asc {
		order = 1
	}
	if a.SortBy == SortByValue {
		keys = append(keys,
			stage.SortKey{Field: "_id", Order: order},
			stage.SortKey{Field: "count", Order: -1})
	} else {
		keys = append(keys,
			stage.SortKey{Field: "count", Order: order},
			stage.SortKey{Field: "_id", Order: 1})
	}

	limit := a.First
	if len(a.Include) > limit {
		limit = len(a.Include)
	}

	cp := newCompiled(rp, func() any { return CountValuesResult{Values: []ValueCount{}} })
	cp.stages = st.Append(
		stage.Sort{Keys: keys},
		stage.Group{Fields: []stage.Accumulator{
			{Name: "count", Op: "$sum", Arg: 1},
			{Name: "result", Op: "$push", Arg: pair},
		}},
		stage.Project{Fields: bson.D{
			{Key: "count", Value: true},
			{Key: "result", Value: bson.D{{Key: "$slice", Value: bson.A{"$result", limit}}}},
		}},
	)
	cp.parse = func(docs []bson.M) (any, error) {
		res := CountValuesResult{Count: toInt64(firstDoc(docs, "count")), Values: []ValueCount{}}
		for _, d := range asDocs(firstDoc(docs, "result")) {
			res.Values = append(res.Values, ValueCount{
				Value: coerceWith(ct, d["k"]),
				Count: toInt64(d["count"]),
			})
		}
		return res, nil
	}
	return cp, nil
}
