package core

import (
	"context"
	"testing"

	"github.com/dosco/aggjin/core/internal/stage"
	"github.com/dosco/aggjin/expr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestFacetList(t *testing.T) {
	cp := mustCompile(t, imageCollection(), FacetAggregations{
		Field: "ground_truth.detections",
		Aggregations: []Aggregation{
			Count{},
			CountValues{Field: "label"},
			Bounds{Field: "confidence"},
		},
	})
	assert.Equal(t, []string{"$unwind", "$facet"}, stageNames(cp))
	assert.True(t, cp.hasFacet)

	facet := cp.stages[1].(stage.Facet)
	var keys []string
	for _, b := range facet.Branches {
		keys = append(keys, b.Key)
	}
	assert.Equal(t, []string{
		"ground_truth_detections-Count-0",
		"ground_truth_detections_label-CountValues-1",
		"ground_truth_detections_confidence-Bounds-2",
	}, keys)

	// the root unwind is not repeated inside the branches
	assert.Equal(t, []string{"$match", "$count"}, facet.Branches[0].Stages.Names())
	assert.Equal(t, []string{"$group", "$group"}, facet.Branches[1].Stages.Names())

	res, err := cp.Parse([]bson.M{{
		"ground_truth_detections-Count-0": bson.A{bson.M{"count": int32(5)}},
		"ground_truth_detections_label-CountValues-1": bson.A{bson.M{"result": bson.A{
			bson.M{"k": "cat", "count": int32(3)},
			bson.M{"k": "dog", "count": int32(2)},
		}}},
		"ground_truth_detections_confidence-Bounds-2": bson.A{},
	}})
	require.NoError(t, err)
	assert.Equal(t, []any{
		int64(5),
		map[any]int64{"cat": 3, "dog": 2},
		BoundsResult{},
	}, res)

	res, err = cp.Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(0), map[any]int64{}, BoundsResult{}}, res)
}

func TestFacetNamed(t *testing.T) {
	cp := mustCompile(t, imageCollection(), FacetAggregations{
		Field: "ground_truth.detections",
		Named: map[string]Aggregation{
			"total":  Count{},
			"labels": Distinct{Field: "label"},
		},
	})

	facet := cp.stages[len(cp.stages)-1].(stage.Facet)
	require.Len(t, facet.Branches, 2)
	assert.Equal(t, "ground_truth_detections_label-Distinct-labels", facet.Branches[0].Key)
	assert.Equal(t, "ground_truth_detections-Count-total", facet.Branches[1].Key)

	res, err := cp.Parse([]bson.M{{
		"ground_truth_detections_label-Distinct-labels": bson.A{bson.M{"values": bson.A{"cat", "dog"}}},
		"ground_truth_detections-Count-total":           bson.A{bson.M{"count": int32(5)}},
	}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"total":  int64(5),
		"labels": []any{"cat", "dog"},
	}, res)
}

func TestFacetFrames(t *testing.T) {
	cp := mustCompile(t, videoCollection(), FacetAggregations{
		Field:        "frames",
		Aggregations: []Aggregation{Count{}, Count{Field: "detections.detections"}},
	})
	assert.True(t, cp.NeedsFrames)
	assert.Equal(t, []string{"$lookup", "$unwind", "$replaceRoot", "$facet"}, stageNames(cp))

	facet := cp.stages[len(cp.stages)-1].(stage.Facet)
	assert.Equal(t, "frames-Count-0", facet.Branches[0].Key)
	assert.Equal(t, []string{"$count"}, facet.Branches[0].Stages.Names())
	assert.Equal(t, "frames_detections_detections-Count-1", facet.Branches[1].Key)
	assert.Equal(t, []string{"$unwind", "$match", "$count"}, facet.Branches[1].Stages.Names())
}

func TestFacetFramesHistogram(t *testing.T) {
	c := newTestCompiler(videoCollection())
	queried := false
	c.bounds = func(ctx context.Context, coll *Collection, b Bounds) (BoundsResult, error) {
		queried = true
		return BoundsResult{Min: 0.0, Max: 10.0}, nil
	}

	for _, h := range []HistogramValues{{}, {Expr: expr.F("frame_number")}} {
		_, err := c.compile(FacetAggregations{Field: "frames", Aggregations: []Aggregation{h}}, "")
		var ce *ConfigurationError
		require.ErrorAs(t, err, &ce)
		assert.Contains(t, ce.Msg, "need edges or a range")
	}
	assert.False(t, queried)

	cp, err := c.compile(FacetAggregations{
		Field:        "frames",
		Aggregations: []Aggregation{HistogramValues{Field: "frame_number", Bins: 2}},
	}, "")
	require.NoError(t, err)
	assert.True(t, queried)
	assert.Equal(t, "frames_frame_number-HistogramValues-0", cp.stages[len(cp.stages)-1].(stage.Facet).Branches[0].Key)
}

func TestFacetPointerChildren(t *testing.T) {
	cp := mustCompile(t, imageCollection(), FacetAggregations{
		Field:        "tags",
		Aggregations: []Aggregation{&Count{}, Distinct{}},
	})
	facet := cp.stages[len(cp.stages)-1].(stage.Facet)
	assert.Equal(t, "tags-Count-0", facet.Branches[0].Key)
}

func TestFacetErrors(t *testing.T) {
	tests := []struct {
		name string
		agg  FacetAggregations
	}{
		{"no root", FacetAggregations{Aggregations: []Aggregation{Count{}}}},
		{"no children", FacetAggregations{Field: "tags"}},
		{"both containers", FacetAggregations{
			Field:        "tags",
			Aggregations: []Aggregation{Count{}},
			Named:        map[string]Aggregation{"n": Count{}},
		}},
		{"nested", FacetAggregations{
			Field: "ground_truth.detections",
			Aggregations: []Aggregation{
				FacetAggregations{Aggregations: []Aggregation{Count{}}},
			},
		}},
		{"nil child", FacetAggregations{Field: "tags", Aggregations: []Aggregation{nil}}},
		{"nil pointer child", FacetAggregations{Field: "tags", Aggregations: []Aggregation{(*Count)(nil)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestCompiler(imageCollection()).compile(tt.agg, "")
			var ce *ConfigurationError
			assert.ErrorAs(t, err, &ce)
		})
	}
}
