package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dosco/aggjin/core/internal/stage"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// FacetAggregations runs several aggregations rooted at a common field in a
// single pass. Child fields are relative to Field. Exactly one of
// Aggregations and Named is set and the result has the same shape: a []any
// or a map[string]any.
type FacetAggregations struct {
	Field        string                 `mapstructure:"field"`
	Aggregations []Aggregation          `mapstructure:"aggregations"`
	Named        map[string]Aggregation `mapstructure:"named"`
	UUID         string                 `hash:"ignore"`
}

func (FacetAggregations) Kind() string        { return "FacetAggregations" }
func (a FacetAggregations) FieldName() string { return a.Field }
func (FacetAggregations) isAggregation()      {}

type facetChild struct {
	key    string
	name   string
	branch string
	cp     *Compiled
}

func (c *compiler) compileFacet(a FacetAggregations, ctxPath string) (*Compiled, error) {
	switch {
	case a.Field == "":
		return nil, newConfigurationError(a.Kind(), "", "a root field is required")
	case len(a.Aggregations) != 0 && len(a.Named) != 0:
		return nil, newConfigurationError(a.Kind(), a.Field, "aggregations and named aggregations cannot be combined")
	case len(a.Aggregations) == 0 && len(a.Named) == 0:
		return nil, newConfigurationError(a.Kind(), a.Field, "at least one aggregation is required")
	case ctxPath != "":
		return nil, newConfigurationError(a.Kind(), a.Field, "facets cannot be nested")
	}

	rp, err := c.resolve(a.Kind(), a.Field, nil, false, UnwindAll, "")
	if err != nil {
		return nil, err
	}

	st := rp.stages
	replaced := c.coll.ContainsVideos() && rp.path == framesField
	if replaced {
		st = st.Append(stage.ReplaceRoot{NewRoot: "$" + framesField})
	}

	named := a.Named != nil
	var children []facetChild
	if named {
		keys := make([]string, 0, len(a.Named))
		for k := range a.Named {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			children = append(children, facetChild{name: k, key: k})
		}
	} else {
		for i := range a.Aggregations {
			children = append(children, facetChild{key: fmt.Sprint(i)})
		}
	}

	cp := newCompiled(rp, nil)
	branches := make([]stage.Branch, 0, len(children))

	for i := range children {
		var child Aggregation
		if named {
			child = a.Named[children[i].name]
		} else {
			child = a.Aggregations[i]
		}
		if child = deref(child); child == nil {
			return nil, newConfigurationError(a.Kind(), a.Field, "aggregation %s is nil", children[i].key)
		}

		field := joinField(a.Field, child.FieldName())
		key := facetKey(field, child.Kind(), children[i].key)

		// the documents of a replaced frames root are the frames themselves
		if replaced && child.FieldName() == "" {
			// the bounds query runs on samples, not frames
			if h, ok := child.(HistogramValues); ok && !h.Auto && len(h.Edges) == 0 && len(h.Range) != 2 {
				return nil, newConfigurationError(h.Kind(), a.Field, "histograms of the frames root need edges or a range")
			}
			field = ""
		}

		ccp, err := c.compile(withField(child, field), rp.path)
		if err != nil {
			return nil, err
		}

		children[i].cp = ccp
		children[i].branch = key
		branches = append(branches, stage.Branch{Key: children[i].branch, Stages: ccp.stages})

		cp.NeedsFrames = cp.NeedsFrames || ccp.NeedsFrames
		cp.cacheable = cp.cacheable && ccp.cacheable
	}

	cp.stages = st.Append(stage.Facet{Branches: branches})
	cp.hasFacet = true

	cp.def = func() any {
		if named {
			out := make(map[string]any, len(children))
			for _, ch := range children {
				out[ch.name] = ch.cp.Default()
			}
			return out
		}
		out := make([]any, len(children))
		for i, ch := range children {
			out[i] = ch.cp.Default()
		}
		return out
	}

	cp.parse = func(docs []bson.M) (any, error) {
		results := make([]any, len(children))
		for i, ch := range children {
			raw, _ := docField(docs[0], ch.branch)
			res, err := ch.cp.Parse(asDocs(raw))
			if err != nil {
				return nil, err
			}
			results[i] = res
		}

		if !named {
			return results, nil
		}
		out := make(map[string]any, len(children))
		for i, ch := range children {
			out[ch.name] = results[i]
		}
		return out, nil
	}
	return cp, nil
}

// facetKey derives the branch name of a child from its field, kind and
// position so children sharing a field do not collide
func facetKey(field, kind, pos string) string {
	return strings.ReplaceAll(field, ".", "_") + "-" + kind + "-" + pos
}

func joinField(root, field string) string {
	if field == "" {
		return root
	}
	return root + "." + field
}
