package core

import (
	"sort"
	"strings"

	"github.com/dosco/aggjin/core/internal/stage"
	"github.com/dosco/aggjin/expr"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type listField struct {
	path    string
	unwind  bool
	dropped bool
}

// handleReduceUnwinds rewrites list fields that must be unwound but sit
// directly below a list that is kept as an array. The parent is replaced by
// the concatenation of the non-null child values, and references to the
// child are rewritten to the parent.
func handleReduceUnwinds(path string, unwindFields, otherFields []string) (stage.Pipeline, string, []string, []string) {
	if len(unwindFields) == 0 || len(otherFields) == 0 {
		return nil, path, unwindFields, otherFields
	}

	fields := make([]listField, 0, len(unwindFields)+len(otherFields))
	for _, f := range unwindFields {
		fields = append(fields, listField{path: f, unwind: true})
	}
	for _, f := range otherFields {
		fields = append(fields, listField{path: f})
	}
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].path < fields[j].path })

	var stages stage.Pipeline
	for i := 1; i < len(fields); i++ {
		prev := -1
		for j := i - 1; j >= 0; j-- {
			if !fields[j].dropped {
				prev = j
				break
			}
		}
		if prev < 0 {
			continue
		}

		parent, child := fields[prev], fields[i]
		if !child.unwind || parent.unwind || !strings.HasPrefix(child.path, parent.path+".") {
			continue
		}

		leaf := child.path[len(parent.path)+1:]
		stages = append(stages, stage.AddFields{
			Fields: bson.D{{Key: parent.path, Value: foldList(parent.path, leaf).Compile("")}},
		})

		fields[i].dropped = true
		for k := i + 1; k < len(fields); k++ {
			fields[k].path = replacePathPrefix(fields[k].path, child.path, parent.path)
		}
		path = replacePathPrefix(path, child.path, parent.path)
	}

	if len(stages) == 0 {
		return nil, path, unwindFields, otherFields
	}

	var unwind, other []string
	for _, f := range fields {
		switch {
		case f.dropped:
		case f.unwind:
			unwind = append(unwind, f.path)
		default:
			other = append(other, f.path)
		}
	}
	return stages, path, unwind, other
}

// foldList concatenates the values of leaf across the elements of parent.
// Array values are flattened and nulls are skipped.
func foldList(parent, leaf string) expr.Reduce {
	v := expr.F(leaf)
	body := expr.ConcatArrays(
		expr.V("value"),
		expr.Cond(
			expr.IsArray(v),
			v,
			expr.Cond(expr.Eq(expr.IfNull(v, expr.Lit(nil)), expr.Lit(nil)), expr.Arr(), expr.Arr(v)),
		),
	)
	return expr.ReduceOf(expr.F(parent), body, expr.Arr())
}

func replacePathPrefix(p, old, repl string) string {
	switch {
	case p == old:
		return repl
	case strings.HasPrefix(p, old+"."):
		return repl + p[len(old):]
	}
	return p
}
