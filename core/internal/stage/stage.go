// Package stage holds the typed pipeline IR produced by the compiler. Stages
// are plain records and are only turned into wire documents by Render.
package stage

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type Stage interface {
	Name() string
	Render() bson.D
	isStage()
}

// Match filters documents with a query document.
type Match struct {
	Query bson.D
}

// MatchExpr builds a Match from an aggregation expression.
func MatchExpr(e any) Match {
	return Match{Query: bson.D{{Key: "$expr", Value: e}}}
}

type Project struct {
	Fields bson.D
}

type Unwind struct {
	Path                       string
	PreserveNullAndEmptyArrays bool
}

type Accumulator struct {
	Name string
	Op   string
	Arg  any
}

// Group groups on ID. A nil ID groups every document together.
type Group struct {
	ID     any
	Fields []Accumulator
}

type Bucket struct {
	GroupBy    any
	Boundaries []any
	Default    any
	Output     []Accumulator
}

type BucketAuto struct {
	GroupBy any
	Buckets int
	Output  []Accumulator
}

type Branch struct {
	Key    string
	Stages Pipeline
}

type Facet struct {
	Branches []Branch
}

type SortKey struct {
	Field string
	Order int
}

type Sort struct {
	Keys []SortKey
}

type Limit struct {
	N int64
}

type AddFields struct {
	Fields bson.D
}

type ReplaceRoot struct {
	NewRoot any
}

// Count writes the number of input documents to Field.
type Count struct {
	Field string
}

// Lookup joins documents of another collection with a correlated pipeline.
type Lookup struct {
	From     string
	As       string
	Let      bson.D
	Pipeline Pipeline
}

func (Match) isStage()       {}
func (Project) isStage()     {}
func (Unwind) isStage()      {}
func (Group) isStage()       {}
func (Bucket) isStage()      {}
func (BucketAuto) isStage()  {}
func (Facet) isStage()       {}
func (Sort) isStage()        {}
func (Limit) isStage()       {}
func (AddFields) isStage()   {}
func (ReplaceRoot) isStage() {}
func (Count) isStage()       {}
func (Lookup) isStage()      {}

func (Match) Name() string       { return "$match" }
func (Project) Name() string     { return "$project" }
func (Unwind) Name() string      { return "$unwind" }
func (Group) Name() string       { return "$group" }
func (Bucket) Name() string      { return "$bucket" }
func (BucketAuto) Name() string  { return "$bucketAuto" }
func (Facet) Name() string       { return "$facet" }
func (Sort) Name() string        { return "$sort" }
func (Limit) Name() string       { return "$limit" }
func (AddFields) Name() string   { return "$addFields" }
func (ReplaceRoot) Name() string { return "$replaceRoot" }
func (Count) Name() string       { return "$count" }
func (Lookup) Name() string      { return "$lookup" }

func (s Match) Render() bson.D {
	q := s.Query
	if q == nil {
		q = bson.D{}
	}
	return bson.D{{Key: s.Name(), Value: q}}
}

func (s Project) Render() bson.D {
	return bson.D{{Key: s.Name(), Value: s.Fields}}
}

func (s Unwind) Render() bson.D {
	path := dollar(s.Path)
	if !s.PreserveNullAndEmptyArrays {
		return bson.D{{Key: s.Name(), Value: path}}
	}
	return bson.D{{Key: s.Name(), Value: bson.D{
		{Key: "path", Value: path},
		{Key: "preserveNullAndEmptyArrays", Value: true},
	}}}
}

func (s Group) Render() bson.D {
	d := bson.D{{Key: "_id", Value: s.ID}}
	d = append(d, renderAccumulators(s.Fields)...)
	return bson.D{{Key: s.Name(), Value: d}}
}

func (s Bucket) Render() bson.D {
	d := bson.D{
		{Key: "groupBy", Value: s.GroupBy},
		{Key: "boundaries", Value: bson.A(s.Boundaries)},
	}
	if s.Default != nil {
		d = append(d, bson.E{Key: "default", Value: s.Default})
	}
	if len(s.Output) != 0 {
		d = append(d, bson.E{Key: "output", Value: renderAccumulators(s.Output)})
	}
	return bson.D{{Key: s.Name(), Value: d}}
}

func (s BucketAuto) Render() bson.D {
	d := bson.D{
		{Key: "groupBy", Value: s.GroupBy},
		{Key: "buckets", Value: s.Buckets},
	}
	if len(s.Output) != 0 {
		d = append(d, bson.E{Key: "output", Value: renderAccumulators(s.Output)})
	}
	return bson.D{{Key: s.Name(), Value: d}}
}

func (s Facet) Render() bson.D {
	d := make(bson.D, 0, len(s.Branches))
	for _, b := range s.Branches {
		d = append(d, bson.E{Key: b.Key, Value: b.Stages.Render()})
	}
	return bson.D{{Key: s.Name(), Value: d}}
}

func (s Sort) Render() bson.D {
	d := make(bson.D, 0, len(s.Keys))
	for _, k := range s.Keys {
		d = append(d, bson.E{Key: k.Field, Value: k.Order})
	}
	return bson.D{{Key: s.Name(), Value: d}}
}

func (s Limit) Render() bson.D {
	return bson.D{{Key: s.Name(), Value: s.N}}
}

func (s AddFields) Render() bson.D {
	return bson.D{{Key: s.Name(), Value: s.Fields}}
}

func (s ReplaceRoot) Render() bson.D {
	return bson.D{{Key: s.Name(), Value: bson.D{{Key: "newRoot", Value: s.NewRoot}}}}
}

func (s Count) Render() bson.D {
	return bson.D{{Key: s.Name(), Value: s.Field}}
}

func (s Lookup) Render() bson.D {
	d := bson.D{{Key: "from", Value: s.From}}
	if len(s.Let) != 0 {
		d = append(d, bson.E{Key: "let", Value: s.Let})
	}
	d = append(d,
		bson.E{Key: "pipeline", Value: s.Pipeline.Render()},
		bson.E{Key: "as", Value: s.As})
	return bson.D{{Key: s.Name(), Value: d}}
}

func renderAccumulators(acc []Accumulator) bson.D {
	d := make(bson.D, 0, len(acc))
	for _, a := range acc {
		d = append(d, bson.E{Key: a.Name, Value: bson.D{{Key: a.Op, Value: a.Arg}}})
	}
	return d
}

func dollar(path string) string {
	if strings.HasPrefix(path, "$") {
		return path
	}
	return "$" + path
}
