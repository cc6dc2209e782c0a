package core

import (
	"sort"
	"strings"

	"github.com/dosco/aggjin/core/internal/stage"
	"github.com/dosco/aggjin/expr"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// UnwindMode controls how list fields along a path are handled
type UnwindMode int

const (
	// UnwindNone keeps every list as an array
	UnwindNone UnwindMode = iota
	// UnwindAll flattens every list along the path
	UnwindAll
	// UnwindKeepTopLevel flattens nested lists but keeps the outermost one
	// as an array
	UnwindKeepTopLevel
)

const valueField = "value"

type parseOpts struct {
	safe         bool
	unwind       UnwindMode
	context      string
	allowMissing bool
}

// resolvedPath is the output of parseFieldAndExpr. It is built fresh for
// every compile and never modified afterwards.
type resolvedPath struct {
	path            string
	stages          stage.Pipeline
	otherListFields []string
	idToStr         bool
	fieldType       *Field
	needsFrames     bool
}

// parseFieldAndExpr resolves field against the collection, materializes e
// and emits the stages that bring the value at the returned path into
// shape for the terminal stages of an aggregation.
func (c *compiler) parseFieldAndExpr(kind, field string, e expr.Expr, o parseOpts) (*resolvedPath, error) {
	if field == "" && e == nil {
		return nil, newConfigurationError(kind, "", "a field or expression is required")
	}

	userExpr := e != nil
	if field == "" {
		field, e = expr.ExtractPrefix(e)
	}

	autoUnwind := o.unwind != UnwindNone
	keepTop := o.unwind == UnwindKeepTopLevel
	rp := &resolvedPath{}

	if o.context == "" {
		if slices := c.coll.GroupSlices(field); slices != nil {
			rp.stages = append(rp.stages, c.groupSliceStages(slices)...)
		}
	}

	var pf ParsedField
	if field == "" {
		if o.context == "" && c.coll.ContainsVideos() && refsFrames(e) {
			rp.needsFrames = true
		}
		rp.stages = append(rp.stages, stage.AddFields{
			Fields: bson.D{{Key: valueField, Value: e.Compile("")}},
		})
		pf = ParsedField{Path: valueField}
		e = nil
	} else {
		var err error
		pf, err = c.coll.ParseFieldName(field, autoUnwind, !autoUnwind, o.allowMissing)
		if err != nil {
			if se, ok := err.(*SchemaResolutionError); ok {
				se.Kind = kind
			}
			return nil, err
		}
	}

	path := pf.Path
	unwind := pf.UnwindListFields
	other := pf.OtherListFields

	if c.coll.ContainsVideos() && (path == framesField || strings.HasPrefix(path, framesField+".")) {
		rp.needsFrames = true
	}

	// frame fields are resolved against frame documents once the frames
	// are unwound, or inside a context that already did so
	if pf.IsFrameField && ((autoUnwind && !keepTop) || o.context != "") {
		if o.context == "" {
			rp.stages = append(rp.stages,
				stage.Unwind{Path: framesField},
				stage.ReplaceRoot{NewRoot: "$" + framesField})
		}
		path = trimFrames(path)
		unwind = trimFramesList(unwind)
		other = trimFramesList(other)
	}

	// lists the enclosing pipeline already unwound
	if o.context != "" {
		unwind = dropCovered(unwind, o.context)
		other = dropCovered(other, o.context)
	}

	if e != nil {
		lists := ancestorsOf(path, append(append([]string{}, unwind...), other...))
		rp.stages = append(rp.stages, setFieldStage(path, lists, e))
	}

	switch {
	case keepTop:
		if len(unwind) != 0 {
			other = append([]string{unwind[0]}, other...)
			unwind = unwind[1:]
			sort.Strings(other)
		}
		rp.stages = append(rp.stages, projectPath(path))
	case !autoUnwind && len(other) != 0:
		rp.stages = append(rp.stages, projectPath(path))
	}

	extra, path, unwind, other := handleReduceUnwinds(path, unwind, other)
	rp.stages = append(rp.stages, extra...)

	sort.SliceStable(unwind, func(i, j int) bool { return len(unwind[i]) < len(unwind[j]) })
	for _, f := range unwind {
		rp.stages = append(rp.stages, stage.Unwind{Path: f})
	}

	if o.safe {
		rp.stages = append(rp.stages, setFieldStage(path, ancestorsOf(path, other), safeValue()))
	}

	rp.path = path
	rp.otherListFields = other
	if !userExpr {
		rp.idToStr = pf.IDToStr
		if pf.Field != nil && !isPrimitive(pf.Field) {
			rp.fieldType = pf.Field
		}
	}
	return rp, nil
}

func (c *compiler) groupSliceStages(slices []string) stage.Pipeline {
	gf := c.coll.GroupField

	names := make([]expr.Expr, len(slices))
	for i, s := range slices {
		names[i] = expr.Lit(s)
	}
	cond := expr.And(
		expr.Eq(expr.F(gf+"._id"), expr.V("group_id")),
		expr.In(expr.F(gf+".name"), expr.Arr(names...)),
	)

	var st stage.Pipeline
	if c.coll.DefaultSlice != "" {
		st = append(st, stage.Match{Query: bson.D{{Key: gf + ".name", Value: c.coll.DefaultSlice}}})
	}
	return append(st,
		stage.Lookup{
			From:     c.coll.Name,
			As:       "_group_samples",
			Let:      bson.D{{Key: "group_id", Value: "$" + gf + "._id"}},
			Pipeline: stage.Pipeline{stage.MatchExpr(cond.Compile(""))},
		},
		stage.Unwind{Path: "_group_samples"},
		stage.ReplaceRoot{NewRoot: "$_group_samples"},
	)
}

// framesLookup attaches the frame documents of each sample as a list
func framesLookup(c *Collection) stage.Lookup {
	return stage.Lookup{
		From: c.framesCollection(),
		As:   framesField,
		Let:  bson.D{{Key: "sample_id", Value: "$_id"}},
		Pipeline: stage.Pipeline{
			stage.MatchExpr(expr.Eq(expr.F("_sample_id"), expr.V("sample_id")).Compile("")),
			stage.Sort{Keys: []stage.SortKey{{Field: "frame_number", Order: 1}}},
		},
	}
}

// setFieldStage stores value, evaluated against the current value at path,
// back at path. lists are the list-typed ancestors of path, outermost first;
// the value is set on every element of each of them.
func setFieldStage(path string, lists []string, value expr.Expr) stage.AddFields {
	if len(lists) == 0 {
		return stage.AddFields{Fields: bson.D{{Key: path, Value: value.Compile("$" + path)}}}
	}
	top := lists[0]
	return stage.AddFields{Fields: bson.D{{Key: top, Value: mapSet("$"+top, top, lists[1:], path, value)}}}
}

func mapSet(ref, base string, lists []string, path string, value expr.Expr) bson.D {
	var in any
	if len(lists) == 0 {
		rel := path[len(base)+1:]
		in = mergeAt("$$this", strings.Split(rel, "."), value.Compile("$$this."+rel))
	} else {
		rel := lists[0][len(base)+1:]
		in = mergeAt("$$this", strings.Split(rel, "."), mapSet("$$this."+rel, lists[0], lists[1:], path, value))
	}
	return bson.D{{Key: "$map", Value: bson.D{
		{Key: "input", Value: ref},
		{Key: "as", Value: "this"},
		{Key: "in", Value: in},
	}}}
}

// mergeAt returns the document at ref with the relative path segs set to
// value
func mergeAt(ref string, segs []string, value any) bson.D {
	inner := value
	if len(segs) > 1 {
		inner = mergeAt(ref+"."+segs[0], segs[1:], value)
	}
	return bson.D{{Key: "$mergeObjects", Value: bson.A{ref, bson.D{{Key: segs[0], Value: inner}}}}}
}

// safeValue nulls out NaN and infinite values, element-wise for arrays
func safeValue() expr.Expr {
	return expr.Cond(
		expr.IsArray(expr.F("")),
		expr.MapOf(expr.F(""), expr.Safe(expr.F(""))),
		expr.Safe(expr.F("")),
	)
}

func projectPath(path string) stage.Project {
	return stage.Project{Fields: bson.D{{Key: path, Value: true}}}
}

// ancestorsOf returns the fields of lists that are strict ancestors of path
func ancestorsOf(path string, lists []string) []string {
	var out []string
	for _, l := range lists {
		if strings.HasPrefix(path, l+".") {
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}

func dropCovered(lists []string, context string) []string {
	var out []string
	for _, l := range lists {
		if context == l || strings.HasPrefix(context, l+".") {
			continue
		}
		out = append(out, l)
	}
	return out
}

func trimFrames(path string) string {
	return strings.TrimPrefix(path, framesField+".")
}

func trimFramesList(list []string) []string {
	var out []string
	for _, f := range list {
		if f == framesField {
			continue
		}
		out = append(out, trimFrames(f))
	}
	return out
}

// refsFrames reports whether e reads frame data
func refsFrames(e expr.Expr) bool {
	for _, f := range expr.FieldRefs(e) {
		if f.Path == framesField || strings.HasPrefix(f.Path, framesField+".") {
			return true
		}
	}
	return false
}
